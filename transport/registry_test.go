package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}
func (m *mockSubscriber) Close() error { return nil }

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.Empty(t, reg.Names())
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("test-transport", okBuilder, Capabilities{
		Name:           "test-transport",
		SupportsFanOut: true,
		MaxMessageSize: 4096,
	})

	assert.True(t, reg.Has("test-transport"))
	caps := reg.GetCapabilities("test-transport")
	assert.True(t, caps.SupportsFanOut)
	assert.EqualValues(t, 4096, caps.MaxMessageSize)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, Capabilities{Name: "unknown"}, caps)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "test-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("nats", okBuilder)
	reg.Register("channel", okBuilder)

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "zeromq"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown transport "zeromq"`)
	assert.Contains(t, err.Error(), "channel, nats")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()
	expectedErr := errors.New("builder error")
	reg.Register("failing-transport", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, expectedErr
	})

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing-transport"}, nil)
	assert.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "transport failing-transport")
}

func TestRegistry_NamesAreSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("rabbitmq", okBuilder)
	reg.Register("channel", okBuilder)
	reg.Register("kafka", okBuilder)

	assert.Equal(t, []string{"channel", "kafka", "rabbitmq"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegisterWithCapabilities(t *testing.T) {
	RegisterWithCapabilities("test-pkg-caps-transport", okBuilder, Capabilities{
		Name:             "test-pkg-caps-transport",
		SupportsOrdering: true,
	})

	assert.True(t, DefaultRegistry.Has("test-pkg-caps-transport"))
	assert.True(t, GetCapabilities("test-pkg-caps-transport").SupportsOrdering)

	_, err := Build(context.Background(), &mockConfig{pubSubSystem: "nonexistent"}, nil)
	assert.Error(t, err)
}
