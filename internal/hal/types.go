package hal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Handle identifies a live pin or signal. Handles are unique among pins and
// signals and are never reused while the object they name is alive. Zero is
// never assigned, so it doubles as "no handle" on the wire.
type Handle uint32

// Type is the value type of a pin, signal or parameter.
type Type int

const (
	TypeUnspecified Type = -1
	TypeBit         Type = 1
	TypeFloat       Type = 2
	TypeS32         Type = 3
	TypeU32         Type = 4
	TypeS64         Type = 5
	TypeU64         Type = 6
)

var typeNames = map[Type]string{
	TypeBit:   "BIT",
	TypeFloat: "FLOAT",
	TypeS32:   "S32",
	TypeU32:   "U32",
	TypeS64:   "S64",
	TypeU64:   "U64",
}

// Valid reports whether t is one of the concrete value types.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNSPECIFIED"
}

// MarshalText encodes the type by name so wire payloads stay readable.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the type name (case-insensitive) or its numeric code.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType maps a type name such as "bit" or "FLOAT" to its Type.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	for t, name := range typeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Type(n).Valid() {
		return Type(n), nil
	}
	return TypeUnspecified, fmt.Errorf("hal: unknown type %q", s)
}

// Direction is the direction of a pin as seen from its owning component.
type Direction int

const (
	DirUnspecified Direction = -1
	DirIn          Direction = 16
	DirOut         Direction = 32
	DirIO          Direction = DirIn | DirOut
)

var directionNames = map[Direction]string{
	DirIn:  "IN",
	DirOut: "OUT",
	DirIO:  "IO",
}

// Valid reports whether d is IN, OUT or IO.
func (d Direction) Valid() bool {
	_, ok := directionNames[d]
	return ok
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return "UNSPECIFIED"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection maps "in", "out" or "io" to a Direction.
func ParseDirection(s string) (Direction, error) {
	s = strings.TrimSpace(s)
	for d, name := range directionNames {
		if strings.EqualFold(name, s) {
			return d, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Direction(n).Valid() {
		return Direction(n), nil
	}
	return DirUnspecified, fmt.Errorf("hal: unknown pin direction %q", s)
}

// ParamDirection says whether a parameter may be written from outside.
type ParamDirection int

const (
	ParamRO ParamDirection = 64
	ParamRW ParamDirection = 192
)

func (d ParamDirection) String() string {
	switch d {
	case ParamRO:
		return "RO"
	case ParamRW:
		return "RW"
	default:
		return "UNSPECIFIED"
	}
}

func (d ParamDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *ParamDirection) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "RO", "64":
		*d = ParamRO
	case "RW", "192":
		*d = ParamRW
	default:
		return fmt.Errorf("hal: unknown parameter direction %q", text)
	}
	return nil
}

// Value is the tagged union carried by pins, signals and parameters. Only
// the field matching Type is meaningful.
type Value struct {
	Type  Type
	Bit   bool
	Float float64
	S32   int32
	U32   uint32
	S64   int64
	U64   uint64
}

// ZeroValue returns the zero value of t.
func ZeroValue(t Type) Value {
	return Value{Type: t}
}

func BitValue(b bool) Value      { return Value{Type: TypeBit, Bit: b} }
func FloatValue(f float64) Value { return Value{Type: TypeFloat, Float: f} }
func S32Value(n int32) Value     { return Value{Type: TypeS32, S32: n} }
func U32Value(n uint32) Value    { return Value{Type: TypeU32, U32: n} }
func S64Value(n int64) Value     { return Value{Type: TypeS64, S64: n} }
func U64Value(n uint64) Value    { return Value{Type: TypeU64, U64: n} }

// Equal compares two values of the same type. Values of different types are
// never equal. NaN floats compare equal to each other so a NaN signal does not
// trigger a broadcast on every scan.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeBit:
		return v.Bit == o.Bit
	case TypeFloat:
		if math.IsNaN(v.Float) && math.IsNaN(o.Float) {
			return true
		}
		return v.Float == o.Float
	case TypeS32:
		return v.S32 == o.S32
	case TypeU32:
		return v.U32 == o.U32
	case TypeS64:
		return v.S64 == o.S64
	case TypeU64:
		return v.U64 == o.U64
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Type {
	case TypeBit:
		return strconv.FormatBool(v.Bit)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeS32:
		return strconv.FormatInt(int64(v.S32), 10)
	case TypeU32:
		return strconv.FormatUint(uint64(v.U32), 10)
	case TypeS64:
		return strconv.FormatInt(v.S64, 10)
	case TypeU64:
		return strconv.FormatUint(v.U64, 10)
	default:
		return "<unset>"
	}
}

// ComponentKind distinguishes in-process components from remote ones.
type ComponentKind int

const (
	KindRT ComponentKind = iota + 1
	KindUser
	KindRemote
)

func (k ComponentKind) String() string {
	switch k {
	case KindRT:
		return "RT"
	case KindUser:
		return "USER"
	case KindRemote:
		return "REMOTE"
	default:
		return "INVALID"
	}
}

func (k ComponentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ComponentKind) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "RT":
		*k = KindRT
	case "USER":
		*k = KindUser
	case "REMOTE":
		*k = KindRemote
	default:
		return fmt.Errorf("hal: unknown component kind %q", text)
	}
	return nil
}

// ComponentState is the store-side lifecycle state of a component.
type ComponentState int

const (
	StateInitializing ComponentState = iota + 1
	StateUnbound
	StateBound
	StateReady
)

func (s ComponentState) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateUnbound:
		return "UNBOUND"
	case StateBound:
		return "BOUND"
	case StateReady:
		return "READY"
	default:
		return "INVALID"
	}
}

func (s ComponentState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ComponentState) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for st := StateInitializing; st <= StateReady; st++ {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("hal: unknown component state %q", text)
}

// Pin is a snapshot of a pin taken under the store lock.
type Pin struct {
	Handle Handle
	Name   string
	Type   Type
	Dir    Direction
	Value  Value
	Owner  string
	// Signal is the name of the linked signal, empty when unlinked.
	Signal string
}

// Signal is a snapshot of a signal taken under the store lock.
type Signal struct {
	Handle  Handle
	Name    string
	Type    Type
	Value   Value
	Writers int
	Readers int
	Bidirs  int
}

// Param is a snapshot of a component parameter.
type Param struct {
	Handle Handle
	Name   string
	Type   Type
	Dir    ParamDirection
	Value  Value
	Owner  string
}

// Component is a snapshot of a component with its pins and parameters.
type Component struct {
	ID    int
	Name  string
	Kind  ComponentKind
	State ComponentState
	// PID is the owning process, zero when unowned.
	PID int
	// ScanInterval is the component's own status scan period; zero selects
	// the broker default.
	ScanInterval time.Duration
	// AcceptValuesOnBind lets a first bind pre-seed OUT and IO pin values.
	AcceptValuesOnBind bool
	LastBound          time.Time
	LastUnbound        time.Time
	Pins               []Pin
	Params             []Param
}

// NeverBound reports whether the component has not been bound since creation.
func (c Component) NeverBound() bool {
	return c.LastBound.IsZero()
}

// MemberKind tells whether a group member names a signal or a nested group.
type MemberKind int

const (
	MemberSignal MemberKind = iota + 1
	MemberGroup
)

func (k MemberKind) String() string {
	if k == MemberGroup {
		return "group"
	}
	return "signal"
}

func (k MemberKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MemberKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "signal":
		*k = MemberSignal
	case "group":
		*k = MemberGroup
	default:
		return fmt.Errorf("hal: unknown group member kind %q", text)
	}
	return nil
}

// GroupMember is one direct member of a group.
type GroupMember struct {
	Kind MemberKind
	Name string
	// Epsilon is the change threshold for float signals; zero means any change.
	Epsilon float64
}

// Group is a named collection of signals and nested groups.
type Group struct {
	Name         string
	ScanInterval time.Duration
	Members      []GroupMember
}

// Thread describes a real-time thread for introspection.
type Thread struct {
	Name      string
	Period    time.Duration
	CPU       int
	Functions []string
}

// Ring describes a ring buffer for introspection.
type Ring struct {
	Name   string
	Size   int
	Stream bool
}

// ItemKind is the kind of object a watch list member or cached item refers to.
type ItemKind int

const (
	ItemPin ItemKind = iota + 1
	ItemSignal
)

func (k ItemKind) String() string {
	switch k {
	case ItemPin:
		return "pin"
	case ItemSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Member is one entry of a watch list as reported by Store.Report.
type Member struct {
	Kind   ItemKind
	Handle Handle
	Name   string
	Type   Type
	Dir    Direction
	Value  Value
}
