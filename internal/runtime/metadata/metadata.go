// Package metadata holds the headers haltalk attaches to every transport
// message next to the envelope payload.
package metadata

import "strconv"

// Header keys set on outgoing and read from incoming messages.
const (
	KeyOrigin        = "origin"
	KeyMessageType   = "haltalk_message_type"
	KeySerial        = "haltalk_serial"
	KeyTopic         = "haltalk_topic"
	KeyCorrelationID = "correlation_id"
	KeyContentType   = "content_type"
	KeyProcessUUID   = "haltalk_uuid"
)

// Metadata represents the headers carried alongside an envelope.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// Origin is the identity of the peer that sent a command.
func (m Metadata) Origin() string { return m[KeyOrigin] }

// Serial returns the broadcast serial header, zero when absent or invalid.
func (m Metadata) Serial() uint64 {
	n, err := strconv.ParseUint(m[KeySerial], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
