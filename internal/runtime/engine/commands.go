package engine

import (
	"errors"
	"fmt"

	"github.com/drblury/haltalk/internal/hal"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	"github.com/drblury/haltalk/internal/runtime/logging"
	"github.com/drblury/haltalk/internal/wire"
)

// commandFunc serves one request. A nil reply means the request is answered
// with silence.
type commandFunc func(req *wire.Envelope) *wire.Envelope

// setter tells the set handlers which namespace a request came from.
type setter int

const (
	fromComponent setter = iota + 1
	fromCommand
)

func (r *Registry) commandTable() map[wire.MessageType]commandFunc {
	return map[wire.MessageType]commandFunc{
		wire.MTPing:            r.ping,
		wire.MTRcompBind:       r.bind,
		wire.MTHalrcompSet:     r.rcompSet,
		wire.MTHalrcmdSet:      r.rcmdSet,
		wire.MTHalrcmdGet:      r.get,
		wire.MTHalrcmdDescribe: r.describe,
	}
}

// Handle dispatches one request and returns its reply, or nil when none is
// due.
func (r *Registry) Handle(req *wire.Envelope) *wire.Envelope {
	fn, ok := r.commands[req.Type]
	if !ok {
		r.obs.Request(req.Type, "error")
		r.logger.Info("unknown request", logging.LogFields{"type": req.Type.String()})
		env := wire.New(wire.MTHalrcmdError, r.uuid)
		env.AddNote("unknown message type %d", int(req.Type))
		return env
	}

	reply := fn(req)
	result := "ok"
	if reply != nil && len(reply.Notes) > 0 {
		result = "rejected"
	}
	r.obs.Request(req.Type, result)
	r.obs.CachedItems(r.Items.Len())
	return reply
}

func (r *Registry) ping(*wire.Envelope) *wire.Envelope {
	env := wire.New(wire.MTPingAcknowledge, r.uuid)
	env.PID = r.pid
	return env
}

func (r *Registry) bind(req *wire.Envelope) *wire.Envelope {
	if len(req.Components) == 0 {
		env := wire.New(wire.MTRcompBindReject, r.uuid)
		env.AddNote("no component")
		return env
	}
	return r.Components.Bind(req.Components[0])
}

func (r *Registry) rcompSet(req *wire.Envelope) *wire.Envelope {
	var notes errspkg.Notes
	for _, p := range req.Pins {
		r.setPin(fromComponent, p, &notes)
	}
	if len(req.Signals) > 0 || len(req.Params) > 0 {
		notes.Addf("component set accepts pins only")
	}
	return r.setReply(req, notes, wire.MTHalrcompSetReject, req.ReplyRequired)
}

func (r *Registry) rcmdSet(req *wire.Envelope) *wire.Envelope {
	var notes errspkg.Notes
	for _, p := range req.Pins {
		r.setPin(fromCommand, p, &notes)
	}
	for _, s := range req.Signals {
		r.setSignal(s, &notes)
	}
	for _, p := range req.Params {
		r.setParam(p, &notes)
	}
	return r.setReply(req, notes, wire.MTHalrcmdSetReject, true)
}

func (r *Registry) setReply(req *wire.Envelope, notes errspkg.Notes, reject wire.MessageType, ack bool) *wire.Envelope {
	if !notes.Empty() {
		r.logger.Debug("set rejected", logging.LogFields{"type": req.Type.String(), "notes": len(notes)})
		env := wire.New(reject, r.uuid)
		env.Notes = notes
		return env
	}
	if !ack {
		return nil
	}
	return wire.New(wire.MTHalrcmdAck, r.uuid)
}

// value checks the type tag and value of a set record.
func value(label string, t hal.Type, v wire.Value, notes *errspkg.Notes) (hal.Value, bool) {
	if !t.Valid() {
		notes.Addf("%s: type tag required", label)
		return hal.Value{}, false
	}
	hv, ok := v.Hal()
	if !ok {
		notes.Addf("%s: exactly one value required", label)
		return hal.Value{}, false
	}
	if hv.Type != t {
		notes.Addf("%s: type tag %s does not match value of type %s", label, t, hv.Type)
		return hal.Value{}, false
	}
	return hv, true
}

func pinLabel(p wire.Pin) string {
	if p.Handle != 0 {
		return fmt.Sprintf("pin handle %d", p.Handle)
	}
	return fmt.Sprintf("pin '%s'", p.Name)
}

// pin resolves a pin by handle when one is given, by name otherwise.
func (r *Registry) pin(p wire.Pin, notes *errspkg.Notes) (resolved, bool) {
	if p.Handle != 0 {
		res, err := r.Items.Lookup(hal.ItemPin, hal.Handle(p.Handle))
		if err != nil {
			notes.Addf("pin handle %d: %v", p.Handle, err)
			return resolved{}, false
		}
		return res, true
	}
	if p.Name == "" {
		notes.Addf("pin without handle or name")
		return resolved{}, false
	}
	res, err := r.Items.Resolve(hal.ItemPin, p.Name)
	if err != nil {
		notes.Addf("no such pin: '%s'", p.Name)
		return resolved{}, false
	}
	return res, true
}

func (r *Registry) signal(s wire.Signal, notes *errspkg.Notes) (resolved, bool) {
	if s.Handle != 0 {
		res, err := r.Items.Lookup(hal.ItemSignal, hal.Handle(s.Handle))
		if err != nil {
			notes.Addf("signal handle %d: %v", s.Handle, err)
			return resolved{}, false
		}
		return res, true
	}
	if s.Name == "" {
		notes.Addf("signal without handle or name")
		return resolved{}, false
	}
	res, err := r.Items.Resolve(hal.ItemSignal, s.Name)
	if err != nil {
		notes.Addf("no such signal: '%s'", s.Name)
		return resolved{}, false
	}
	return res, true
}

func (r *Registry) setPin(from setter, p wire.Pin, notes *errspkg.Notes) {
	label := pinLabel(p)
	v, ok := value(label, p.Type, p.Value, notes)
	if !ok {
		return
	}
	res, ok := r.pin(p, notes)
	if !ok {
		return
	}
	switch {
	case from == fromComponent && res.Dir == hal.DirIn:
		notes.Addf("pin '%s': cannot set an IN pin", res.Name)
		return
	case from == fromCommand && res.Dir == hal.DirOut:
		notes.Addf("pin '%s': cannot set an OUT pin", res.Name)
		return
	case from == fromCommand && res.pin.Signal != "":
		notes.Addf("pin '%s': linked to signal '%s'", res.Name, res.pin.Signal)
		return
	}
	if res.Type != v.Type {
		notes.Addf("pin '%s': %s value for %s pin", res.Name, v.Type, res.Type)
		return
	}
	if err := r.store.SetPin(res.Handle, v); err != nil {
		notes.Addf("pin '%s': %v", res.Name, err)
	}
}

func (r *Registry) setSignal(s wire.Signal, notes *errspkg.Notes) {
	label := fmt.Sprintf("signal '%s'", s.Name)
	if s.Handle != 0 {
		label = fmt.Sprintf("signal handle %d", s.Handle)
	}
	v, ok := value(label, s.Type, s.Value, notes)
	if !ok {
		return
	}
	res, ok := r.signal(s, notes)
	if !ok {
		return
	}
	if res.signal.Writers > 0 {
		notes.Addf("signal '%s': already has a writer", res.Name)
		return
	}
	if res.Type != v.Type {
		notes.Addf("signal '%s': %s value for %s signal", res.Name, v.Type, res.Type)
		return
	}
	if err := r.store.SetSignal(res.Handle, v); err != nil {
		notes.Addf("signal '%s': %v", res.Name, err)
	}
}

func (r *Registry) setParam(p wire.Param, notes *errspkg.Notes) {
	label := fmt.Sprintf("param '%s'", p.Name)
	v, ok := value(label, p.Type, p.Value, notes)
	if !ok {
		return
	}
	err := r.store.SetParam(p.Name, v)
	switch {
	case err == nil:
	case errors.Is(err, hal.ErrNotFound):
		notes.Addf("no such param: '%s'", p.Name)
	case errors.Is(err, hal.ErrReadOnly):
		notes.Addf("param '%s': read-only", p.Name)
	default:
		notes.Addf("param '%s': %v", p.Name, err)
	}
}

// get answers handle lookups with handle and value, and name lookups with
// the full record.
func (r *Registry) get(req *wire.Envelope) *wire.Envelope {
	var notes errspkg.Notes
	reply := wire.New(wire.MTHalrcmdAck, r.uuid)

	for _, p := range req.Pins {
		res, ok := r.pin(p, &notes)
		if !ok {
			continue
		}
		if p.Handle != 0 {
			reply.Pins = append(reply.Pins, wire.Pin{Handle: uint32(res.Handle), Value: wire.FromHal(res.value())})
			continue
		}
		reply.Pins = append(reply.Pins, wire.PinFromHal(res.pin))
	}
	for _, s := range req.Signals {
		res, ok := r.signal(s, &notes)
		if !ok {
			continue
		}
		if s.Handle != 0 {
			reply.Signals = append(reply.Signals, wire.Signal{Handle: uint32(res.Handle), Value: wire.FromHal(res.value())})
			continue
		}
		reply.Signals = append(reply.Signals, wire.SignalFromHal(res.signal))
	}
	for _, p := range req.Params {
		hp, err := r.store.ParamByName(p.Name)
		if err != nil {
			notes.Addf("no such param: '%s'", p.Name)
			continue
		}
		reply.Params = append(reply.Params, wire.ParamFromHal(hp))
	}

	if !notes.Empty() {
		env := wire.New(wire.MTHalrcmdGetReject, r.uuid)
		env.Notes = notes
		return env
	}
	return reply
}

func (r *Registry) describe(*wire.Envelope) *wire.Envelope {
	env := wire.New(wire.MTHalrcmdDescription, r.uuid)
	env.Describe(r.store)
	return env
}
