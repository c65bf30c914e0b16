package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/drblury/haltalk/internal/hal"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	"github.com/drblury/haltalk/internal/runtime/logging"
)

type compState int

const (
	stateUncompiled compState = iota
	stateUnbound
	stateBound
)

func (s compState) String() string {
	switch s {
	case stateUnbound:
		return "UNBOUND"
	case stateBound:
		return "BOUND"
	default:
		return "UNCOMPILED"
	}
}

// rcomp is a remote component as seen by the engine. It walks
// UNCOMPILED -> UNBOUND -> BOUND -> UNBOUND.
type rcomp struct {
	topic
	state compState
}

// ComponentEngine tracks remote components and drives their bind lifecycle
// from subscriptions and bind requests.
type ComponentEngine struct {
	scanner
	comps map[string]*rcomp
	items *ItemCache
	pid   int
	// retired keeps the last serial of dropped components so a component
	// created again under the same name continues where it left off.
	retired map[string]uint64
}

// Discover registers placeholders for remote components that are unbound and
// unowned. Nothing is acquired or compiled here.
func (e *ComponentEngine) Discover() {
	for _, c := range e.store.Components() {
		if c.Kind != hal.KindRemote {
			continue
		}
		if _, ok := e.comps[c.Name]; ok {
			continue
		}
		if c.State != hal.StateUnbound || c.PID != 0 {
			continue
		}
		e.comps[c.Name] = e.placeholder(c)
		e.logger.Debug("component discovered", logging.LogFields{"component": c.Name})
	}
}

func (e *ComponentEngine) placeholder(c hal.Component) *rcomp {
	return e.newRcomp(c.Name, c.ScanInterval)
}

func (e *ComponentEngine) newRcomp(name string, interval time.Duration) *rcomp {
	return &rcomp{
		topic: topic{name: name, interval: e.intervalFor(interval), serial: e.retired[name]},
		state: stateUncompiled,
	}
}

func (e *ComponentEngine) lookup(name string) (*rcomp, bool) {
	if c, ok := e.comps[name]; ok {
		return c, true
	}
	e.Discover()
	c, ok := e.comps[name]
	return c, ok
}

// compile acquires the component for this process and builds its watch
// list. On failure the component is released and c is left untouched.
func (e *ComponentEngine) compile(c *rcomp) error {
	if err := e.store.Acquire(c.name, e.pid); err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	wl, err := e.store.CompileComponent(c.name)
	if err != nil {
		_ = e.store.Release(c.name)
		return fmt.Errorf("compile: %w", err)
	}
	if snap, err := e.store.Component(c.name); err == nil {
		for _, p := range snap.Pins {
			e.items.Insert(p)
		}
	}
	c.watch = wl
	c.state = stateUnbound
	return nil
}

// Activate compiles the component if needed, binds it and starts its timer.
func (e *ComponentEngine) Activate(name string) error {
	c, ok := e.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", errspkg.ErrNoSuchComponent, name)
	}
	if c.state == stateUncompiled {
		if err := e.compile(c); err != nil {
			return err
		}
	}
	if c.state == stateUnbound {
		if err := e.store.Bind(name); err != nil {
			return fmt.Errorf("bind: %w", err)
		}
		c.state = stateBound
		e.logger.Info("component bound", logging.LogFields{"component": name})
	}
	e.start(&c.topic, func() { e.OnTick(name) })
	return nil
}

// Deactivate stops the timer and unbinds the component.
func (e *ComponentEngine) Deactivate(name string) error {
	c, ok := e.comps[name]
	if !ok {
		return fmt.Errorf("%w: %q", errspkg.ErrNoSuchComponent, name)
	}
	e.stop(&c.topic)
	if c.state == stateBound {
		if err := e.store.Unbind(name); err != nil {
			return fmt.Errorf("unbind: %w", err)
		}
		c.state = stateUnbound
		e.logger.Info("component unbound", logging.LogFields{"component": name})
	}
	return nil
}

// OnTick publishes an incremental update when any pin changed. A component
// whose pins vanished from the store is dropped.
func (e *ComponentEngine) OnTick(name string) {
	c, ok := e.comps[name]
	if !ok {
		return
	}
	err := e.report(&c.topic, false)
	if err == nil {
		return
	}
	e.logger.Error("component scan failed", err, logging.LogFields{"component": name})
	e.stop(&c.topic)
	if errors.Is(err, hal.ErrNotFound) {
		e.retired[name] = c.serial
		delete(e.comps, name)
	}
	e.fail(name, fmt.Sprintf("scan of component '%s' failed: %v", name, err))
}

// OnSubscribe publishes a full update.
func (e *ComponentEngine) OnSubscribe(name string) error {
	c, ok := e.comps[name]
	if !ok || c.state == stateUncompiled {
		return fmt.Errorf("%w: %q is not compiled", errspkg.ErrNoSuchComponent, name)
	}
	return e.report(&c.topic, true)
}

// Subscribe binds and activates the component unless it is being scanned
// already, then sends every subscriber a full update. When the full update
// for the first subscriber cannot be sent the component is deactivated and
// unbound again, since the caller forgets that subscriber.
func (e *ComponentEngine) Subscribe(name string, first bool) error {
	c, ok := e.lookup(name)
	if !ok {
		e.unknown("component", name, e.Names())
		return fmt.Errorf("%w: %q", errspkg.ErrNoSuchComponent, name)
	}
	if !c.active {
		if err := e.Activate(name); err != nil {
			e.fail(name, fmt.Sprintf("component '%s': %v", name, err))
			return err
		}
	}
	if err := e.OnSubscribe(name); err != nil {
		if first {
			if derr := e.Deactivate(name); derr != nil {
				e.logger.Error("deactivate failed", derr, logging.LogFields{"component": name})
			}
		}
		return err
	}
	return nil
}

// Unsubscribe deactivates the component after its last subscriber left.
func (e *ComponentEngine) Unsubscribe(name string) error {
	return e.Deactivate(name)
}

// Names lists the known components.
func (e *ComponentEngine) Names() []string { return sortedKeys(e.comps) }

// State returns the lifecycle state of a component: UNCOMPILED, UNBOUND or
// BOUND. Unknown components report an empty string.
func (e *ComponentEngine) State(name string) string {
	if c, ok := e.comps[name]; ok {
		return c.state.String()
	}
	return ""
}

// Serial returns the last serial sent for a component.
func (e *ComponentEngine) Serial(name string) uint64 {
	if c, ok := e.comps[name]; ok {
		return c.serial
	}
	return 0
}

// Active reports whether the component is being scanned.
func (e *ComponentEngine) Active(name string) bool {
	c, ok := e.comps[name]
	return ok && c.active
}

func (e *ComponentEngine) activeNames() []string {
	var names []string
	for _, name := range e.Names() {
		if e.comps[name].active {
			names = append(names, name)
		}
	}
	return names
}
