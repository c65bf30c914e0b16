// Package wire defines the envelope exchanged on every haltalk channel and
// the conversions between data-store snapshots and envelope records. The
// broker logic only ever builds envelopes through this package, never from
// store internals.
package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drblury/haltalk/internal/hal"
)

// MessageType tags an envelope. Requests, replies and broadcasts share the
// same envelope layout.
type MessageType int

const (
	MTUnknown MessageType = 0

	MTPing            MessageType = 1
	MTPingAcknowledge MessageType = 2

	MTRcompBind        MessageType = 10
	MTRcompBindConfirm MessageType = 11
	MTRcompBindReject  MessageType = 12

	MTHalrcompSet       MessageType = 20
	MTHalrcompSetReject MessageType = 21

	MTHalrcmdSet         MessageType = 30
	MTHalrcmdSetReject   MessageType = 31
	MTHalrcmdGet         MessageType = 32
	MTHalrcmdGetReject   MessageType = 33
	MTHalrcmdAck         MessageType = 34
	MTHalrcmdDescribe    MessageType = 35
	MTHalrcmdDescription MessageType = 36
	MTHalrcmdError       MessageType = 37

	MTHalrcompFullUpdate        MessageType = 40
	MTHalrcompIncrementalUpdate MessageType = 41
	MTHalrcompError             MessageType = 42

	MTHalgroupFullUpdate        MessageType = 50
	MTHalgroupIncrementalUpdate MessageType = 51
	MTHalgroupError             MessageType = 52
)

var messageTypeNames = map[MessageType]string{
	MTPing:                      "PING",
	MTPingAcknowledge:           "PING_ACKNOWLEDGE",
	MTRcompBind:                 "RCOMP_BIND",
	MTRcompBindConfirm:          "RCOMP_BIND_CONFIRM",
	MTRcompBindReject:           "RCOMP_BIND_REJECT",
	MTHalrcompSet:               "HALRCOMP_SET",
	MTHalrcompSetReject:         "HALRCOMP_SET_REJECT",
	MTHalrcmdSet:                "HALRCMD_SET",
	MTHalrcmdSetReject:          "HALRCMD_SET_REJECT",
	MTHalrcmdGet:                "HALRCMD_GET",
	MTHalrcmdGetReject:          "HALRCMD_GET_REJECT",
	MTHalrcmdAck:                "HALRCMD_ACK",
	MTHalrcmdDescribe:           "HALRCMD_DESCRIBE",
	MTHalrcmdDescription:        "HALRCMD_DESCRIPTION",
	MTHalrcmdError:              "HALRCMD_ERROR",
	MTHalrcompFullUpdate:        "HALRCOMP_FULL_UPDATE",
	MTHalrcompIncrementalUpdate: "HALRCOMP_INCREMENTAL_UPDATE",
	MTHalrcompError:             "HALRCOMP_ERROR",
	MTHalgroupFullUpdate:        "HALGROUP_FULL_UPDATE",
	MTHalgroupIncrementalUpdate: "HALGROUP_INCREMENTAL_UPDATE",
	MTHalgroupError:             "HALGROUP_ERROR",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "MT_" + strconv.Itoa(int(t))
}

func (t MessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts a known name or any number. Unknown numbers decode
// fine so the command handler can answer them with an error reply.
func (t *MessageType) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	for mt, name := range messageTypeNames {
		if strings.EqualFold(name, s) {
			*t = mt
			return nil
		}
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "MT_"))
	if err != nil {
		return fmt.Errorf("wire: unknown message type %q", s)
	}
	*t = MessageType(n)
	return nil
}

// UnmarshalJSON accepts both the quoted name and a bare number.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	return t.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

// Value carries one member of the hal value union. Exactly one field is set
// for a valid value.
type Value struct {
	Bit   *bool    `json:"halbit,omitempty"`
	Float *float64 `json:"halfloat,omitempty"`
	S32   *int32   `json:"hals32,omitempty"`
	U32   *uint32  `json:"halu32,omitempty"`
	S64   *int64   `json:"hals64,omitempty"`
	U64   *uint64  `json:"halu64,omitempty"`
}

// Pin is the wire form of a pin. Incremental updates and handle lookups carry
// only Handle and a value.
type Pin struct {
	Name    string        `json:"name,omitempty"`
	Handle  uint32        `json:"handle,omitempty"`
	Type    hal.Type      `json:"type,omitempty"`
	Dir     hal.Direction `json:"dir,omitempty"`
	Linked  bool          `json:"linked,omitempty"`
	Signal  string        `json:"signal,omitempty"`
	Owner   string        `json:"owner,omitempty"`
	Epsilon float64       `json:"epsilon,omitempty"`
	Value
}

// Signal is the wire form of a signal.
type Signal struct {
	Name    string   `json:"name,omitempty"`
	Handle  uint32   `json:"handle,omitempty"`
	Type    hal.Type `json:"type,omitempty"`
	Writers int      `json:"writers,omitempty"`
	Readers int      `json:"readers,omitempty"`
	Bidirs  int      `json:"bidirs,omitempty"`
	Value
}

// Param is the wire form of a component parameter.
type Param struct {
	Name   string             `json:"name,omitempty"`
	Handle uint32             `json:"handle,omitempty"`
	Type   hal.Type           `json:"type,omitempty"`
	Dir    hal.ParamDirection `json:"dir,omitempty"`
	Value
}

// Component is the wire form of a component. A bind request fills Name,
// Pins and optionally NoCreate and Timer.
type Component struct {
	Name     string             `json:"name,omitempty"`
	ID       int                `json:"comp_id,omitempty"`
	Kind     hal.ComponentKind  `json:"kind,omitempty"`
	State    hal.ComponentState `json:"state,omitempty"`
	PID      int                `json:"pid,omitempty"`
	Timer    int                `json:"timer,omitempty"`
	NoCreate bool               `json:"no_create,omitempty"`
	Accept   bool               `json:"accept_values,omitempty"`
	Pins     []Pin              `json:"pin,omitempty"`
	Params   []Param            `json:"param,omitempty"`
}

// Member is a direct member of a group in a description.
type Member struct {
	Kind    hal.MemberKind `json:"mtype,omitempty"`
	Name    string         `json:"name,omitempty"`
	Epsilon float64        `json:"epsilon,omitempty"`
}

// Group is the wire form of a group.
type Group struct {
	Name    string   `json:"name,omitempty"`
	Timer   int      `json:"timer,omitempty"`
	Members []Member `json:"member,omitempty"`
}

// Thread is the wire form of a real-time thread.
type Thread struct {
	Name      string   `json:"name,omitempty"`
	PeriodNS  int64    `json:"period,omitempty"`
	CPU       int      `json:"cpu_id,omitempty"`
	Functions []string `json:"function,omitempty"`
}

// Ring is the wire form of a ring buffer.
type Ring struct {
	Name   string `json:"name,omitempty"`
	Size   int    `json:"size,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

// Envelope is the single message layout used on all three channels.
type Envelope struct {
	Type          MessageType `json:"type"`
	UUID          string      `json:"uuid,omitempty"`
	Serial        uint64      `json:"serial,omitempty"`
	ReplyRequired bool        `json:"reply_required,omitempty"`
	PID           int         `json:"pid,omitempty"`
	Pins          []Pin       `json:"pin,omitempty"`
	Signals       []Signal    `json:"signal,omitempty"`
	Params        []Param     `json:"param,omitempty"`
	Components    []Component `json:"comp,omitempty"`
	Groups        []Group     `json:"group,omitempty"`
	Threads       []Thread    `json:"thread,omitempty"`
	Rings         []Ring      `json:"ring,omitempty"`
	Notes         []string    `json:"note,omitempty"`
}

// New returns an envelope of type t stamped with the process identity.
func New(t MessageType, uuid string) *Envelope {
	return &Envelope{Type: t, UUID: uuid}
}

// AddNote appends a formatted diagnostic note.
func (e *Envelope) AddNote(format string, args ...any) {
	e.Notes = append(e.Notes, fmt.Sprintf(format, args...))
}
