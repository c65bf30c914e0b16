package transport

// Capabilities describes what a backend guarantees to the broker.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsFanOut means every subscriber of a topic sees every message.
	// Status channels rely on it; without it subscribers of the same topic
	// compete for updates.
	SupportsFanOut bool

	// SupportsOrdering means messages on one topic arrive in publish order.
	// Without it clients must order updates by serial themselves.
	SupportsOrdering bool

	// SupportsAck indicates explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates negative acknowledgment with redelivery.
	SupportsNack bool

	// Persistent means messages survive a broker restart.
	Persistent bool

	// MaxMessageSize is the largest payload in bytes, 0 when unlimited.
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true for at-least-once delivery (ack and
// nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of n bytes can be sent.
func (c Capabilities) Fits(n int) bool {
	return c.MaxMessageSize <= 0 || int64(n) <= c.MaxMessageSize
}

// Capability sets of the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsFanOut:   true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		SupportsFanOut: true,
		MaxMessageSize: 1 << 20,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsFanOut:   true,
		SupportsOrdering: true,
		SupportsAck:      true,
		Persistent:       true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsFanOut:   true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		Persistent:       true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Unknown names yield a Capabilities value carrying only the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
