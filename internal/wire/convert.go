package wire

import (
	"github.com/drblury/haltalk/internal/hal"
)

// FromHal copies a store value into its wire form.
func FromHal(v hal.Value) Value {
	var out Value
	switch v.Type {
	case hal.TypeBit:
		b := v.Bit
		out.Bit = &b
	case hal.TypeFloat:
		f := v.Float
		out.Float = &f
	case hal.TypeS32:
		n := v.S32
		out.S32 = &n
	case hal.TypeU32:
		n := v.U32
		out.U32 = &n
	case hal.TypeS64:
		n := v.S64
		out.S64 = &n
	case hal.TypeU64:
		n := v.U64
		out.U64 = &n
	}
	return out
}

// Set reports whether exactly one value field is present.
func (v Value) Set() bool {
	n := 0
	for _, present := range []bool{v.Bit != nil, v.Float != nil, v.S32 != nil, v.U32 != nil, v.S64 != nil, v.U64 != nil} {
		if present {
			n++
		}
	}
	return n == 1
}

// Hal converts the wire value to a store value. ok is false when no field or
// more than one field is set.
func (v Value) Hal() (hal.Value, bool) {
	if !v.Set() {
		return hal.Value{}, false
	}
	switch {
	case v.Bit != nil:
		return hal.BitValue(*v.Bit), true
	case v.Float != nil:
		return hal.FloatValue(*v.Float), true
	case v.S32 != nil:
		return hal.S32Value(*v.S32), true
	case v.U32 != nil:
		return hal.U32Value(*v.U32), true
	case v.S64 != nil:
		return hal.S64Value(*v.S64), true
	default:
		return hal.U64Value(*v.U64), true
	}
}

// PinFromHal is the fully decorated pin record used in descriptions, full
// updates and get-by-name replies.
func PinFromHal(p hal.Pin) Pin {
	return Pin{
		Name:   p.Name,
		Handle: uint32(p.Handle),
		Type:   p.Type,
		Dir:    p.Dir,
		Linked: p.Signal != "",
		Signal: p.Signal,
		Owner:  p.Owner,
		Value:  FromHal(p.Value),
	}
}

func SignalFromHal(s hal.Signal) Signal {
	return Signal{
		Name:    s.Name,
		Handle:  uint32(s.Handle),
		Type:    s.Type,
		Writers: s.Writers,
		Readers: s.Readers,
		Bidirs:  s.Bidirs,
		Value:   FromHal(s.Value),
	}
}

func ParamFromHal(p hal.Param) Param {
	return Param{
		Name:   p.Name,
		Handle: uint32(p.Handle),
		Type:   p.Type,
		Dir:    p.Dir,
		Value:  FromHal(p.Value),
	}
}

// ComponentFromHal describes a component with all its pins and parameters.
func ComponentFromHal(c hal.Component) Component {
	out := Component{
		Name:   c.Name,
		ID:     c.ID,
		Kind:   c.Kind,
		State:  c.State,
		PID:    c.PID,
		Timer:  int(c.ScanInterval.Milliseconds()),
		Accept: c.AcceptValuesOnBind,
	}
	for _, p := range c.Pins {
		out.Pins = append(out.Pins, PinFromHal(p))
	}
	for _, p := range c.Params {
		out.Params = append(out.Params, ParamFromHal(p))
	}
	return out
}

func GroupFromHal(g hal.Group) Group {
	out := Group{Name: g.Name, Timer: int(g.ScanInterval.Milliseconds())}
	for _, m := range g.Members {
		out.Members = append(out.Members, Member{Kind: m.Kind, Name: m.Name, Epsilon: m.Epsilon})
	}
	return out
}

func ThreadFromHal(t hal.Thread) Thread {
	return Thread{
		Name:      t.Name,
		PeriodNS:  t.Period.Nanoseconds(),
		CPU:       t.CPU,
		Functions: append([]string(nil), t.Functions...),
	}
}

func RingFromHal(r hal.Ring) Ring {
	return Ring{Name: r.Name, Size: r.Size, Stream: r.Stream}
}

// AppendMember adds a reported watch-list member to env. Full records carry
// name, type and direction; incremental records carry the handle and value
// only. Signal members become signal records, pin members pin records.
func (e *Envelope) AppendMember(m hal.Member, full bool) {
	switch m.Kind {
	case hal.ItemPin:
		p := Pin{Handle: uint32(m.Handle), Value: FromHal(m.Value)}
		if full {
			p.Name, p.Type, p.Dir = m.Name, m.Type, m.Dir
		}
		e.Pins = append(e.Pins, p)
	default:
		s := Signal{Handle: uint32(m.Handle), Value: FromHal(m.Value)}
		if full {
			s.Name, s.Type = m.Name, m.Type
		}
		e.Signals = append(e.Signals, s)
	}
}

// Describe fills env with every component, group, signal, thread and ring the
// store knows about.
func (e *Envelope) Describe(store hal.Store) {
	for _, c := range store.Components() {
		e.Components = append(e.Components, ComponentFromHal(c))
	}
	for _, g := range store.Groups() {
		e.Groups = append(e.Groups, GroupFromHal(g))
	}
	for _, s := range store.Signals() {
		e.Signals = append(e.Signals, SignalFromHal(s))
	}
	for _, t := range store.Threads() {
		e.Threads = append(e.Threads, ThreadFromHal(t))
	}
	for _, r := range store.Rings() {
		e.Rings = append(e.Rings, RingFromHal(r))
	}
}
