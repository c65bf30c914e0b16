// Package memstore is an in-memory hal.Store. It stands in for the
// shared-memory data store in tests and in the demo command, and mirrors its
// rules: handles are allocated once and never recycled, pins follow the
// signal they are linked to, and remote components walk the
// INITIALIZING → UNBOUND ⇄ BOUND lifecycle.
package memstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drblury/haltalk/internal/hal"
)

type pin struct {
	handle hal.Handle
	name   string
	typ    hal.Type
	dir    hal.Direction
	value  hal.Value
	owner  *component
	signal *signal
}

func (p *param) snapshot() hal.Param {
	return hal.Param{
		Handle: p.handle,
		Name:   p.name,
		Type:   p.typ,
		Dir:    p.dir,
		Value:  p.value,
		Owner:  p.owner.name,
	}
}

func (p *pin) current() hal.Value {
	if p.signal != nil {
		return p.signal.value
	}
	return p.value
}

func (p *pin) snapshot() hal.Pin {
	out := hal.Pin{
		Handle: p.handle,
		Name:   p.name,
		Type:   p.typ,
		Dir:    p.dir,
		Value:  p.current(),
	}
	if p.owner != nil {
		out.Owner = p.owner.name
	}
	if p.signal != nil {
		out.Signal = p.signal.name
	}
	return out
}

type signal struct {
	handle  hal.Handle
	name    string
	typ     hal.Type
	value   hal.Value
	writers int
	readers int
	bidirs  int
}

func (s *signal) snapshot() hal.Signal {
	return hal.Signal{
		Handle:  s.handle,
		Name:    s.name,
		Type:    s.typ,
		Value:   s.value,
		Writers: s.writers,
		Readers: s.readers,
		Bidirs:  s.bidirs,
	}
}

type param struct {
	handle hal.Handle
	name   string
	typ    hal.Type
	dir    hal.ParamDirection
	value  hal.Value
	owner  *component
}

type component struct {
	id          int
	name        string
	kind        hal.ComponentKind
	state       hal.ComponentState
	pid         int
	scan        time.Duration
	accept      bool
	lastBound   time.Time
	lastUnbound time.Time
	pins        []*pin
	params      []*param
}

func (c *component) snapshot() hal.Component {
	out := hal.Component{
		ID:                 c.id,
		Name:               c.name,
		Kind:               c.kind,
		State:              c.state,
		PID:                c.pid,
		ScanInterval:       c.scan,
		AcceptValuesOnBind: c.accept,
		LastBound:          c.lastBound,
		LastUnbound:        c.lastUnbound,
		Pins:               make([]hal.Pin, 0, len(c.pins)),
		Params:             make([]hal.Param, 0, len(c.params)),
	}
	for _, p := range c.pins {
		out.Pins = append(out.Pins, p.snapshot())
	}
	for _, p := range c.params {
		out.Params = append(out.Params, p.snapshot())
	}
	return out
}

// Store is a mutex-guarded in-memory data store.
type Store struct {
	mu sync.Mutex

	nextHandle hal.Handle
	nextCompID int

	pins       map[string]*pin
	pinHandles map[hal.Handle]*pin
	signals    map[string]*signal
	sigHandles map[hal.Handle]*signal
	params     map[string]*param
	components map[string]*component
	groups     map[string]hal.Group
	threads    []hal.Thread
	rings      []hal.Ring

	faults map[string]error
	now    func() time.Time
}

var _ hal.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		pins:       make(map[string]*pin),
		pinHandles: make(map[hal.Handle]*pin),
		signals:    make(map[string]*signal),
		sigHandles: make(map[hal.Handle]*signal),
		params:     make(map[string]*param),
		components: make(map[string]*component),
		groups:     make(map[string]hal.Group),
		faults:     make(map[string]error),
		now:        time.Now,
	}
}

// FailNext makes the next call of the named operation ("NewComponent",
// "NewPin", "Ready", "Acquire", "Bind", "Unbind", "CompileComponent",
// "CompileGroup", "SetPin", "SetSignal", "SetParam") return err. Used to exercise
// failure paths.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

func (s *Store) allocHandle() hal.Handle {
	s.nextHandle++
	return s.nextHandle
}

// NewSignal creates a signal holding the zero value of t.
func (s *Store) NewSignal(name string, t hal.Type) (hal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" || !t.Valid() {
		return hal.Signal{}, fmt.Errorf("%w: signal %q of type %s", hal.ErrInvalidSchema, name, t)
	}
	if _, ok := s.signals[name]; ok {
		return hal.Signal{}, fmt.Errorf("%w: signal %q", hal.ErrExists, name)
	}
	sig := &signal{handle: s.allocHandle(), name: name, typ: t, value: hal.ZeroValue(t)}
	s.signals[name] = sig
	s.sigHandles[sig.handle] = sig
	return sig.snapshot(), nil
}

// AddComponent registers a component of any kind in INITIALIZING state.
// Pins and parameters may be added until Ready is called.
func (s *Store) AddComponent(name string, kind hal.ComponentKind) (hal.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addComponent(hal.ComponentSpec{Name: name}, kind)
}

func (s *Store) addComponent(spec hal.ComponentSpec, kind hal.ComponentKind) (hal.Component, error) {
	if spec.Name == "" {
		return hal.Component{}, fmt.Errorf("%w: empty component name", hal.ErrInvalidSchema)
	}
	if _, ok := s.components[spec.Name]; ok {
		return hal.Component{}, fmt.Errorf("%w: component %q", hal.ErrExists, spec.Name)
	}
	s.nextCompID++
	c := &component{
		id:     s.nextCompID,
		name:   spec.Name,
		kind:   kind,
		state:  hal.StateInitializing,
		scan:   spec.ScanInterval,
		accept: spec.AcceptValuesOnBind,
	}
	s.components[spec.Name] = c
	return c.snapshot(), nil
}

// NewComponent creates a remote component in INITIALIZING state.
func (s *Store) NewComponent(spec hal.ComponentSpec) (hal.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("NewComponent"); err != nil {
		return hal.Component{}, err
	}
	return s.addComponent(spec, hal.KindRemote)
}

// NewPin adds a pin to an initializing component.
func (s *Store) NewPin(comp string, spec hal.PinSpec) (hal.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("NewPin"); err != nil {
		return hal.Pin{}, err
	}

	c, ok := s.components[comp]
	if !ok {
		return hal.Pin{}, fmt.Errorf("%w: component %q", hal.ErrNotFound, comp)
	}
	if c.state != hal.StateInitializing {
		return hal.Pin{}, fmt.Errorf("%w: component %q is %s", hal.ErrBadState, comp, c.state)
	}
	if spec.Name == "" || !spec.Type.Valid() || !spec.Dir.Valid() {
		return hal.Pin{}, fmt.Errorf("%w: pin %q type %s dir %s", hal.ErrInvalidSchema, spec.Name, spec.Type, spec.Dir)
	}
	if _, ok := s.pins[spec.Name]; ok {
		return hal.Pin{}, fmt.Errorf("%w: pin %q", hal.ErrExists, spec.Name)
	}

	p := &pin{
		handle: s.allocHandle(),
		name:   spec.Name,
		typ:    spec.Type,
		dir:    spec.Dir,
		value:  hal.ZeroValue(spec.Type),
		owner:  c,
	}
	if spec.Value != nil {
		if spec.Value.Type != spec.Type {
			return hal.Pin{}, fmt.Errorf("%w: pin %q initial value is %s", hal.ErrTypeMismatch, spec.Name, spec.Value.Type)
		}
		p.value = *spec.Value
	}
	s.pins[p.name] = p
	s.pinHandles[p.handle] = p
	c.pins = append(c.pins, p)
	return p.snapshot(), nil
}

// NewParam adds a parameter to an initializing component.
func (s *Store) NewParam(comp, name string, t hal.Type, dir hal.ParamDirection) (hal.Param, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.components[comp]
	if !ok {
		return hal.Param{}, fmt.Errorf("%w: component %q", hal.ErrNotFound, comp)
	}
	if c.state != hal.StateInitializing {
		return hal.Param{}, fmt.Errorf("%w: component %q is %s", hal.ErrBadState, comp, c.state)
	}
	if _, ok := s.params[name]; ok {
		return hal.Param{}, fmt.Errorf("%w: param %q", hal.ErrExists, name)
	}
	p := &param{handle: s.allocHandle(), name: name, typ: t, dir: dir, value: hal.ZeroValue(t), owner: c}
	s.params[name] = p
	c.params = append(c.params, p)
	return p.snapshot(), nil
}

// Ready finishes initialization: remote components become UNBOUND, all
// others READY.
func (s *Store) Ready(comp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Ready"); err != nil {
		return err
	}

	c, ok := s.components[comp]
	if !ok {
		return fmt.Errorf("%w: component %q", hal.ErrNotFound, comp)
	}
	if c.state != hal.StateInitializing {
		return fmt.Errorf("%w: component %q is %s", hal.ErrBadState, comp, c.state)
	}
	if c.kind == hal.KindRemote {
		c.state = hal.StateUnbound
	} else {
		c.state = hal.StateReady
	}
	return nil
}

// DeleteComponent removes a component together with its pins and params.
func (s *Store) DeleteComponent(comp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.components[comp]
	if !ok {
		return fmt.Errorf("%w: component %q", hal.ErrNotFound, comp)
	}
	for _, p := range c.pins {
		s.unlink(p)
		delete(s.pins, p.name)
		delete(s.pinHandles, p.handle)
	}
	for _, p := range c.params {
		delete(s.params, p.name)
	}
	delete(s.components, comp)
	return nil
}

func (s *Store) remote(comp string) (*component, error) {
	c, ok := s.components[comp]
	if !ok {
		return nil, fmt.Errorf("%w: component %q", hal.ErrNotFound, comp)
	}
	if c.kind != hal.KindRemote {
		return nil, fmt.Errorf("%w: component %q is %s, not REMOTE", hal.ErrBadState, comp, c.kind)
	}
	return c, nil
}

// Acquire records pid as the owner of a remote component.
func (s *Store) Acquire(comp string, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Acquire"); err != nil {
		return err
	}

	c, err := s.remote(comp)
	if err != nil {
		return err
	}
	if c.state == hal.StateInitializing {
		return fmt.Errorf("%w: component %q is still initializing", hal.ErrBadState, comp)
	}
	if c.pid != 0 && c.pid != pid {
		return fmt.Errorf("%w: component %q owned by pid %d", hal.ErrNotOwner, comp, c.pid)
	}
	c.pid = pid
	return nil
}

// Release clears the owner of a remote component.
func (s *Store) Release(comp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.remote(comp)
	if err != nil {
		return err
	}
	c.pid = 0
	return nil
}

// Bind moves a remote component from UNBOUND to BOUND.
func (s *Store) Bind(comp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Bind"); err != nil {
		return err
	}

	c, err := s.remote(comp)
	if err != nil {
		return err
	}
	if c.state != hal.StateUnbound {
		return fmt.Errorf("%w: component %q is %s", hal.ErrBadState, comp, c.state)
	}
	c.state = hal.StateBound
	c.lastBound = s.now()
	return nil
}

// Unbind moves a remote component from BOUND back to UNBOUND.
func (s *Store) Unbind(comp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Unbind"); err != nil {
		return err
	}

	c, err := s.remote(comp)
	if err != nil {
		return err
	}
	if c.state != hal.StateBound {
		return fmt.Errorf("%w: component %q is %s", hal.ErrBadState, comp, c.state)
	}
	c.state = hal.StateUnbound
	c.lastUnbound = s.now()
	return nil
}

// Link attaches a pin to a signal of the same type.
func (s *Store) Link(pinName, sigName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pins[pinName]
	if !ok {
		return fmt.Errorf("%w: pin %q", hal.ErrNotFound, pinName)
	}
	sig, ok := s.signals[sigName]
	if !ok {
		return fmt.Errorf("%w: signal %q", hal.ErrNotFound, sigName)
	}
	if p.typ != sig.typ {
		return fmt.Errorf("%w: pin %q is %s, signal %q is %s", hal.ErrTypeMismatch, pinName, p.typ, sigName, sig.typ)
	}
	if p.dir == hal.DirOut && sig.writers > 0 {
		return fmt.Errorf("%w: signal %q", hal.ErrHasWriter, sigName)
	}
	s.unlink(p)
	p.signal = sig
	switch p.dir {
	case hal.DirOut:
		sig.writers++
		sig.value = p.value
	case hal.DirIn:
		sig.readers++
	case hal.DirIO:
		sig.bidirs++
	}
	return nil
}

func (s *Store) unlink(p *pin) {
	sig := p.signal
	if sig == nil {
		return
	}
	switch p.dir {
	case hal.DirOut:
		sig.writers--
	case hal.DirIn:
		sig.readers--
	case hal.DirIO:
		sig.bidirs--
	}
	p.value = sig.value
	p.signal = nil
}

// NewGroup defines a group. Members are resolved at compile time.
func (s *Store) NewGroup(name string, scan time.Duration, members ...hal.GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return fmt.Errorf("%w: empty group name", hal.ErrInvalidSchema)
	}
	if _, ok := s.groups[name]; ok {
		return fmt.Errorf("%w: group %q", hal.ErrExists, name)
	}
	s.groups[name] = hal.Group{Name: name, ScanInterval: scan, Members: append([]hal.GroupMember(nil), members...)}
	return nil
}

// AddThread registers a thread for introspection.
func (s *Store) AddThread(t hal.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = append(s.threads, t)
}

// AddRing registers a ring buffer for introspection.
func (s *Store) AddRing(r hal.Ring) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rings = append(s.rings, r)
}

// WriteSignal stores v into a signal regardless of its writers, the way the
// real-time side drives values.
func (s *Store) WriteSignal(name string, v hal.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[name]
	if !ok {
		return fmt.Errorf("%w: signal %q", hal.ErrNotFound, name)
	}
	if sig.typ != v.Type {
		return fmt.Errorf("%w: signal %q is %s", hal.ErrTypeMismatch, name, sig.typ)
	}
	sig.value = v
	return nil
}

// WritePin stores v into a pin (or its linked signal) from the real-time side.
func (s *Store) WritePin(name string, v hal.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pins[name]
	if !ok {
		return fmt.Errorf("%w: pin %q", hal.ErrNotFound, name)
	}
	return s.writePin(p, v)
}

func (s *Store) writePin(p *pin, v hal.Value) error {
	if p.typ != v.Type {
		return fmt.Errorf("%w: pin %q is %s", hal.ErrTypeMismatch, p.name, p.typ)
	}
	if p.signal != nil {
		p.signal.value = v
		return nil
	}
	p.value = v
	return nil
}

func (s *Store) PinByName(name string) (hal.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[name]
	if !ok {
		return hal.Pin{}, fmt.Errorf("%w: pin %q", hal.ErrNotFound, name)
	}
	return p.snapshot(), nil
}

func (s *Store) PinByHandle(h hal.Handle) (hal.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pinHandles[h]
	if !ok {
		return hal.Pin{}, fmt.Errorf("%w: pin handle %d", hal.ErrNotFound, h)
	}
	return p.snapshot(), nil
}

func (s *Store) SignalByName(name string) (hal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[name]
	if !ok {
		return hal.Signal{}, fmt.Errorf("%w: signal %q", hal.ErrNotFound, name)
	}
	return sig.snapshot(), nil
}

func (s *Store) SignalByHandle(h hal.Handle) (hal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.sigHandles[h]
	if !ok {
		return hal.Signal{}, fmt.Errorf("%w: signal handle %d", hal.ErrNotFound, h)
	}
	return sig.snapshot(), nil
}

func (s *Store) ParamByName(name string) (hal.Param, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[name]
	if !ok {
		return hal.Param{}, fmt.Errorf("%w: param %q", hal.ErrNotFound, name)
	}
	return p.snapshot(), nil
}

func (s *Store) Group(name string) (hal.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return hal.Group{}, fmt.Errorf("%w: group %q", hal.ErrNotFound, name)
	}
	return g, nil
}

func (s *Store) Component(name string) (hal.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.components[name]
	if !ok {
		return hal.Component{}, fmt.Errorf("%w: component %q", hal.ErrNotFound, name)
	}
	return c.snapshot(), nil
}

// Groups returns every group sorted by name.
func (s *Store) Groups() []hal.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hal.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Components returns every component sorted by name.
func (s *Store) Components() []hal.Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hal.Component, 0, len(s.components))
	for _, c := range s.components {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Signals returns every signal sorted by name.
func (s *Store) Signals() []hal.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hal.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, sig.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) Threads() []hal.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hal.Thread(nil), s.threads...)
}

func (s *Store) Rings() []hal.Ring {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hal.Ring(nil), s.rings...)
}

// SetPin writes a pin on behalf of the broker.
func (s *Store) SetPin(h hal.Handle, v hal.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SetPin"); err != nil {
		return err
	}
	p, ok := s.pinHandles[h]
	if !ok {
		return fmt.Errorf("%w: pin handle %d", hal.ErrNotFound, h)
	}
	return s.writePin(p, v)
}

// SetSignal writes a signal on behalf of the broker. Signals driven by an
// output pin refuse the write.
func (s *Store) SetSignal(h hal.Handle, v hal.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SetSignal"); err != nil {
		return err
	}
	sig, ok := s.sigHandles[h]
	if !ok {
		return fmt.Errorf("%w: signal handle %d", hal.ErrNotFound, h)
	}
	if sig.writers > 0 {
		return fmt.Errorf("%w: signal %q", hal.ErrHasWriter, sig.name)
	}
	if sig.typ != v.Type {
		return fmt.Errorf("%w: signal %q is %s", hal.ErrTypeMismatch, sig.name, sig.typ)
	}
	sig.value = v
	return nil
}

// SetParam writes a parameter by name. Read-only parameters refuse the write.
func (s *Store) SetParam(name string, v hal.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SetParam"); err != nil {
		return err
	}
	p, ok := s.params[name]
	if !ok {
		return fmt.Errorf("%w: param %q", hal.ErrNotFound, name)
	}
	if p.dir != hal.ParamRW {
		return fmt.Errorf("%w: param %q", hal.ErrReadOnly, name)
	}
	if p.typ != v.Type {
		return fmt.Errorf("%w: param %q is %s", hal.ErrTypeMismatch, name, p.typ)
	}
	p.value = v
	return nil
}
