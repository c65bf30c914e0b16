package runtime

import (
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/haltalk/internal/runtime/engine"
	idspkg "github.com/drblury/haltalk/internal/runtime/ids"
	metadatapkg "github.com/drblury/haltalk/internal/runtime/metadata"
	"github.com/drblury/haltalk/internal/wire"
	"github.com/drblury/haltalk/transport"
)

// A group or component named like subscriptionsSuffix would share the control
// topic, so the name is reserved.
const (
	subscriptionsSuffix = "subscriptions"
	replySuffix         = "reply"
)

// StatusTopic returns the topic status updates of name are published on.
func StatusTopic(endpoint, name string) string { return endpoint + "." + name }

// SubscriptionTopic returns the topic carrying subscribe and unsubscribe
// control frames of an endpoint.
func SubscriptionTopic(endpoint string) string { return endpoint + "." + subscriptionsSuffix }

// ReplyTopic returns the topic command replies for origin are published on.
func ReplyTopic(commandEndpoint, origin string) string {
	return commandEndpoint + "." + replySuffix + "." + origin
}

// statusPublisher turns engine envelopes into watermill messages on the
// status topics.
type statusPublisher struct {
	pub       message.Publisher
	codec     wire.Codec
	caps      transport.Capabilities
	uuid      string
	endpoints map[engine.Channel]string
}

func (p *statusPublisher) Publish(ch engine.Channel, name string, env *wire.Envelope) error {
	endpoint, ok := p.endpoints[ch]
	if !ok {
		return fmt.Errorf("publish: unknown channel %q", ch)
	}
	msg, err := p.message(env, metadatapkg.New(metadatapkg.KeyTopic, name))
	if err != nil {
		return err
	}
	return p.pub.Publish(StatusTopic(endpoint, name), msg)
}

// message encodes env into a watermill message carrying md plus the
// envelope metadata.
func (p *statusPublisher) message(env *wire.Envelope, md metadatapkg.Metadata) (*message.Message, error) {
	data, err := p.codec.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	md = md.With(metadatapkg.KeyMessageType, env.Type.String())
	if env.Serial > 0 {
		md[metadatapkg.KeySerial] = strconv.FormatUint(env.Serial, 10)
	}
	return p.frame(data, md)
}

// frame wraps an encoded payload, refusing payloads the transport cannot
// carry.
func (p *statusPublisher) frame(data []byte, md metadatapkg.Metadata) (*message.Message, error) {
	if !p.caps.Fits(len(data)) {
		return nil, fmt.Errorf("payload of %d bytes exceeds the %s limit of %d bytes", len(data), p.caps.Name, p.caps.MaxMessageSize)
	}
	out := md.Clone()
	out[metadatapkg.KeyContentType] = p.codec.ContentType()
	out[metadatapkg.KeyProcessUUID] = p.uuid

	msg := message.NewMessage(idspkg.CreateULID(), data)
	msg.Metadata = metadatapkg.ToWatermill(out)
	return msg, nil
}
