// Package hal describes the real-time data store the broker talks to. The
// store owns pins, signals, parameters, groups and components; the broker
// only sees snapshots and asks the store to compile, report and mutate.
//
// Every Store method brackets its work with the store's own mutex and
// releases it before returning, so callers never hold the store lock across
// network I/O.
package hal

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("hal: object not found")
	ErrExists        = errors.New("hal: object already exists")
	ErrTypeMismatch  = errors.New("hal: type mismatch")
	ErrReadOnly      = errors.New("hal: object is read-only")
	ErrHasWriter     = errors.New("hal: signal has a writer")
	ErrBadState      = errors.New("hal: component is in the wrong state")
	ErrNotOwner      = errors.New("hal: component is owned by another process")
	ErrInvalidSchema = errors.New("hal: invalid object description")
	ErrOutOfMemory   = errors.New("hal: store allocation failed")
)

// WatchList is a compiled, flat list of pins or signals whose values can be
// compared against the last reported snapshot. It is opaque to the broker.
type WatchList interface {
	// Name is the group or component the list was compiled from.
	Name() string
	// Len is the number of watched items.
	Len() int
}

// ComponentSpec describes a remote component to create.
type ComponentSpec struct {
	Name               string
	ScanInterval       time.Duration
	AcceptValuesOnBind bool
}

// PinSpec describes a pin to create on a remote component.
type PinSpec struct {
	Name  string
	Type  Type
	Dir   Direction
	Value *Value
}

// Store is the data-store adapter used by the broker.
type Store interface {
	PinByName(name string) (Pin, error)
	PinByHandle(h Handle) (Pin, error)
	SignalByName(name string) (Signal, error)
	SignalByHandle(h Handle) (Signal, error)
	ParamByName(name string) (Param, error)
	Group(name string) (Group, error)
	Component(name string) (Component, error)

	Groups() []Group
	Components() []Component
	Signals() []Signal
	Threads() []Thread
	Rings() []Ring

	// CompileGroup flattens a group and its nested groups into a watch list
	// over the member signals.
	CompileGroup(name string) (WatchList, error)
	// CompileComponent builds a watch list over a component's pins.
	CompileComponent(name string) (WatchList, error)
	// Report walks the watch list and calls fn for each member whose value
	// differs from the last report, or for every member when all is true.
	// The snapshot is updated as members are reported. fn runs under the
	// store lock and must not call back into the store.
	Report(w WatchList, all bool, fn func(Member)) (int, error)

	NewComponent(spec ComponentSpec) (Component, error)
	NewPin(component string, spec PinSpec) (Pin, error)
	// Ready moves a freshly created remote component to UNBOUND.
	Ready(component string) error
	DeleteComponent(component string) error
	Acquire(component string, pid int) error
	Release(component string) error
	Bind(component string) error
	Unbind(component string) error

	SetPin(h Handle, v Value) error
	SetSignal(h Handle, v Value) error
	// SetParam writes a parameter by name; RO parameters refuse the write.
	SetParam(name string, v Value) error
}
