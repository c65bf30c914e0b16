package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name     string
		caps     Capabilities
		wantBool bool
	}{
		{name: "supports ack and nack", caps: Capabilities{SupportsAck: true, SupportsNack: true}, wantBool: true},
		{name: "supports ack only", caps: Capabilities{SupportsAck: true}, wantBool: false},
		{name: "supports nack only", caps: Capabilities{SupportsNack: true}, wantBool: false},
		{name: "supports neither", caps: Capabilities{}, wantBool: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBool, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilities_Fits(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		size int
		want bool
	}{
		{name: "unlimited", caps: Capabilities{}, size: 10 << 20, want: true},
		{name: "below limit", caps: Capabilities{MaxMessageSize: 1024}, size: 1000, want: true},
		{name: "at limit", caps: Capabilities{MaxMessageSize: 1024}, size: 1024, want: true},
		{name: "above limit", caps: Capabilities{MaxMessageSize: 1024}, size: 1025, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.Fits(tt.size))
		})
	}
}

func TestPredefinedCapabilities(t *testing.T) {
	all := []Capabilities{ChannelCapabilities, NATSCapabilities, KafkaCapabilities, RabbitMQCapabilities}
	for _, caps := range all {
		t.Run(caps.Name, func(t *testing.T) {
			assert.True(t, caps.SupportsFanOut, "status topics need fan-out")
		})
	}

	assert.False(t, NATSCapabilities.SupportsAck)
	assert.True(t, KafkaCapabilities.Persistent)
	assert.Greater(t, KafkaCapabilities.MaxMessageSize, int64(0))
	assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
}
