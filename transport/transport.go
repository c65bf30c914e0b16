// Package transport defines how haltalk reaches its message infrastructure.
// Each backend lives in its own sub-package and registers a Builder with the
// default registry from init; importing transport/transports pulls in all of
// them.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the subscriber and then the publisher. Builders that hand out
// one object for both roles close it once.
func (t Transport) Close() error {
	var subErr error
	if t.Subscriber != nil {
		subErr = t.Subscriber.Close()
	}
	if t.Publisher == nil {
		return subErr
	}
	if same, ok := t.Publisher.(message.Subscriber); ok && same == t.Subscriber {
		return subErr
	}
	if err := t.Publisher.Close(); err != nil {
		return err
	}
	return subErr
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports read. It keeps backends from
// depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
}
