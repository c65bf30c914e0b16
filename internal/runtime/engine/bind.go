package engine

import (
	"errors"
	"strings"
	"time"

	"github.com/drblury/haltalk/internal/hal"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	"github.com/drblury/haltalk/internal/runtime/logging"
	"github.com/drblury/haltalk/internal/wire"
)

// qualify prefixes a pin name with its component unless it already is.
func qualify(component, pin string) string {
	if strings.HasPrefix(pin, component+".") {
		return pin
	}
	return component + "." + pin
}

// Bind reconciles a client's component schema with the store. An absent
// component is created from the schema; a present one is validated against
// it. On success the component is acquired and compiled but stays UNBOUND
// until its first subscriber arrives.
func (e *ComponentEngine) Bind(req wire.Component) *wire.Envelope {
	var notes errspkg.Notes
	switch live, err := e.store.Component(req.Name); {
	case req.Name == "":
		notes.Addf("component name required")
	case errors.Is(err, hal.ErrNotFound):
		if req.NoCreate {
			notes.Addf("component '%s' does not exist", req.Name)
			break
		}
		e.create(req, &notes)
	case err != nil:
		notes.Addf("component '%s': %v", req.Name, err)
	default:
		e.validate(req, live, &notes)
	}

	if !notes.Empty() {
		e.logger.Info("bind rejected", logging.LogFields{"component": req.Name, "notes": len(notes)})
		env := wire.New(wire.MTRcompBindReject, e.uuid)
		env.Notes = notes
		return env
	}

	live, err := e.store.Component(req.Name)
	if err != nil {
		env := wire.New(wire.MTRcompBindReject, e.uuid)
		env.AddNote("component '%s': %v", req.Name, err)
		return env
	}
	e.logger.Info("bind confirmed", logging.LogFields{"component": req.Name, "pins": len(live.Pins)})
	env := wire.New(wire.MTRcompBindConfirm, e.uuid)
	env.Components = []wire.Component{wire.ComponentFromHal(live)}
	return env
}

// create builds a new remote component. Any failure deletes whatever was
// created in the store, so a later Discover never finds a half-built
// component.
func (e *ComponentEngine) create(req wire.Component, notes *errspkg.Notes) {
	spec := hal.ComponentSpec{
		Name:               req.Name,
		ScanInterval:       time.Duration(req.Timer) * time.Millisecond,
		AcceptValuesOnBind: req.Accept,
	}
	if _, err := e.store.NewComponent(spec); err != nil {
		notes.Addf("component '%s': create failed: %v", req.Name, err)
		return
	}

	var created []hal.Pin
	for _, rp := range req.Pins {
		name := qualify(req.Name, rp.Name)
		ps := hal.PinSpec{Name: name, Type: rp.Type, Dir: rp.Dir}
		if v, ok := rp.Value.Hal(); ok {
			ps.Value = &v
		}
		p, err := e.store.NewPin(req.Name, ps)
		if err != nil {
			notes.Addf("pin '%s': create failed: %v", name, err)
			continue
		}
		created = append(created, p)
	}

	c := e.newRcomp(req.Name, spec.ScanInterval)
	if notes.Empty() {
		if err := e.store.Ready(req.Name); err != nil {
			notes.Addf("component '%s': ready failed: %v", req.Name, err)
		} else if err := e.compile(c); err != nil {
			notes.Addf("component '%s': %v", req.Name, err)
		}
	}

	if !notes.Empty() {
		for _, p := range created {
			e.items.Forget(p.Handle)
		}
		if err := e.store.DeleteComponent(req.Name); err != nil {
			e.logger.Error("bind rollback failed", err, logging.LogFields{"component": req.Name})
		}
		return
	}
	for _, p := range created {
		e.items.Insert(p)
	}
	e.comps[req.Name] = c
	e.logger.Info("component created", logging.LogFields{"component": req.Name, "pins": len(created)})
}

// validate checks a schema against a live component, one note per mismatch:
// both sides must name the same pins, each once, with the same types and
// directions. A matching component is acquired and compiled when the engine
// has not done so yet, and pre-seeded with the schema's OUT and IO values
// when it was never bound and accepts values on bind. Any failure leaves the
// engine as it was.
func (e *ComponentEngine) validate(req wire.Component, live hal.Component, notes *errspkg.Notes) {
	if live.Kind != hal.KindRemote {
		notes.Addf("component '%s' is not a remote component", req.Name)
		return
	}
	if len(req.Pins) != len(live.Pins) {
		notes.Addf("pin count mismatch: %d requested, %d present", len(req.Pins), len(live.Pins))
	}

	present := make(map[string]hal.Pin, len(live.Pins))
	for _, p := range live.Pins {
		present[p.Name] = p
	}
	seed := live.NeverBound() && live.AcceptValuesOnBind
	type seedValue struct {
		handle hal.Handle
		value  hal.Value
	}
	var seeds []seedValue
	matched := make(map[string]bool, len(req.Pins))
	for _, rp := range req.Pins {
		name := qualify(req.Name, rp.Name)
		if matched[name] {
			notes.Addf("pin '%s' declared twice", name)
			continue
		}
		p, ok := present[name]
		if !ok {
			notes.Addf("pin '%s' does not exist", name)
			continue
		}
		matched[name] = true
		if rp.Type != p.Type {
			notes.Addf("pin '%s': type mismatch: requested %s, present %s", name, rp.Type, p.Type)
		}
		if rp.Dir != p.Dir {
			notes.Addf("pin '%s': direction mismatch: requested %s, present %s", name, rp.Dir, p.Dir)
		}
		if v, ok := rp.Value.Hal(); ok && seed && p.Dir != hal.DirIn {
			if v.Type != p.Type {
				notes.Addf("pin '%s': value of type %s for %s pin", name, v.Type, p.Type)
				continue
			}
			seeds = append(seeds, seedValue{handle: p.Handle, value: v})
		}
	}
	for _, p := range live.Pins {
		if !matched[p.Name] {
			notes.Addf("pin '%s' missing from request", p.Name)
		}
	}
	if !notes.Empty() {
		return
	}

	c, known := e.comps[req.Name]
	if !known {
		c = e.placeholder(live)
	}
	compiled := false
	if c.state == stateUncompiled {
		if err := e.compile(c); err != nil {
			notes.Addf("component '%s': %v", req.Name, err)
			return
		}
		compiled = true
	}

	for _, s := range seeds {
		if err := e.store.SetPin(s.handle, s.value); err != nil {
			notes.Addf("pin handle %d: %v", s.handle, err)
		}
	}
	if !notes.Empty() {
		if compiled {
			e.uncompile(c)
		}
		return
	}
	e.comps[req.Name] = c
}

// uncompile undoes compile: the component is released and its pins leave the
// item cache.
func (e *ComponentEngine) uncompile(c *rcomp) {
	if snap, err := e.store.Component(c.name); err == nil {
		for _, p := range snap.Pins {
			e.items.Forget(p.Handle)
		}
	}
	if err := e.store.Release(c.name); err != nil {
		e.logger.Error("release failed", err, logging.LogFields{"component": c.name})
	}
	c.watch = nil
	c.state = stateUncompiled
}
