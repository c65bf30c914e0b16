package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/haltalk/internal/hal"
	"github.com/drblury/haltalk/internal/hal/memstore"
	configpkg "github.com/drblury/haltalk/internal/runtime/config"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
	metadatapkg "github.com/drblury/haltalk/internal/runtime/metadata"
	"github.com/drblury/haltalk/internal/wire"
	"github.com/drblury/haltalk/transport"
)

func TestTryNewServiceValidatesInputs(t *testing.T) {
	ctx := context.Background()
	log := loggingpkg.NewNopLogger()
	store := memstore.New()

	_, err := TryNewService(nil, log, ctx, ServiceDependencies{Store: store})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = TryNewService(testConfig(), nil, ctx, ServiceDependencies{Store: store})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = TryNewService(testConfig(), log, ctx, ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrStoreRequired)

	conf := testConfig()
	conf.WireFormat = "xml"
	_, err = TryNewService(conf, log, ctx, ServiceDependencies{Store: store})
	var cve errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &cve)

	conf = testConfig()
	conf.PubSubSystem = "kafka"
	_, err = TryNewService(conf, log, ctx, ServiceDependencies{Store: store})
	assert.ErrorAs(t, err, &cve)
	assert.Contains(t, err.Error(), "kafka: brokers are required")
}

func TestTryNewServiceTransportFailure(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register("channel", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{}, errors.New("broker unreachable")
	})

	_, err := TryNewService(testConfig(), loggingpkg.NewNopLogger(), context.Background(), ServiceDependencies{
		Store:      memstore.New(),
		Transports: reg,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
}

func TestNewServicePanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		NewService(nil, loggingpkg.NewNopLogger(), context.Background(), ServiceDependencies{})
	})
}

func TestNewServiceMiddlewareBuilderError(t *testing.T) {
	_, err := TryNewService(testConfig(), loggingpkg.NewNopLogger(), context.Background(), ServiceDependencies{
		Store: memstore.New(),
		Middlewares: []MiddlewareRegistration{{
			Name:    "broken",
			Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, errors.New("nope") },
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register middleware broken")
}

func TestServiceStartReturnsWhenContextCancelled(t *testing.T) {
	env := newTestService(t, testConfig())

	origRun := routerRun
	defer func() { routerRun = origRun }()
	called := make(chan struct{}, 1)
	routerRun = func(_ *message.Router, runCtx context.Context) error {
		called <- struct{}{}
		<-runCtx.Done()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.svc.Start(ctx) }()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("routerRun override not invoked")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("service start did not return after context cancellation")
	}
}

func TestServiceAnnouncesEndpoints(t *testing.T) {
	conf := testConfig()
	conf.ServiceLabel = "mill"
	env := newTestService(t, conf)
	env.start(t)

	records := env.announcer.announced()
	require.Len(t, records, 3)
	subtypes := []string{records[0].Subtype, records[1].Subtype, records[2].Subtype}
	assert.Equal(t, []string{"halgroup", "halrcomp", "halrcmd"}, subtypes)
	for _, r := range records {
		assert.Equal(t, "haltalk", r.Service)
		assert.Equal(t, "mill", r.Label)
		assert.Equal(t, env.svc.UUID(), r.UUID)
	}
	assert.Equal(t, "halrcmd", records[2].Topic)
}

func TestGroupSubscriptionOverTransport(t *testing.T) {
	env := newTestService(t, testConfig())
	env.start(t)

	updates := env.listen(t, StatusTopic("halgroup", "motion-status"))
	env.control(t, "halgroup", true, "motion-status")

	msg, envs := env.receive(t, updates, false)
	full := envs[0]
	assert.Equal(t, wire.MTHalgroupFullUpdate, full.Type)
	assert.Equal(t, uint64(1), full.Serial)
	assert.Len(t, full.Signals, 2)
	assert.Equal(t, "HALGROUP_FULL_UPDATE", msg.Metadata.Get(metadatapkg.KeyMessageType))
	assert.Equal(t, "1", msg.Metadata.Get(metadatapkg.KeySerial))
	assert.Equal(t, "motion-status", msg.Metadata.Get(metadatapkg.KeyTopic))
	assert.Equal(t, "application/json", msg.Metadata.Get(metadatapkg.KeyContentType))
	assert.Equal(t, env.svc.UUID(), msg.Metadata.Get(metadatapkg.KeyProcessUUID))

	require.NoError(t, env.store.WriteSignal("x-pos", hal.FloatValue(3.25)))
	_, envs = env.receive(t, updates, false)
	inc := envs[0]
	assert.Equal(t, wire.MTHalgroupIncrementalUpdate, inc.Type)
	assert.Equal(t, uint64(2), inc.Serial)
	require.Len(t, inc.Signals, 1)
	require.NotNil(t, inc.Signals[0].Float)
	assert.Equal(t, 3.25, *inc.Signals[0].Float)

	env.control(t, "halgroup", false, "motion-status")
	require.Eventually(t, func() bool {
		topics, err := env.svc.Topics(context.Background())
		return err == nil && len(topics) > 0 && !topics[0].Active
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.store.WriteSignal("x-pos", hal.FloatValue(4)))
	expectSilence(t, updates, 100*time.Millisecond)
}

func TestUnknownGroupSubscriptionIsForgotten(t *testing.T) {
	env := newTestService(t, testConfig())
	env.start(t)

	updates := env.listen(t, StatusTopic("halgroup", "spindle"))
	env.control(t, "halgroup", true, "spindle")

	_, envs := env.receive(t, updates, false)
	assert.Equal(t, wire.MTHalgroupError, envs[0].Type)
	assert.Equal(t, []string{"no such group: 'spindle'", "known groups: motion-status"}, envs[0].Notes)

	var subscribers int
	require.NoError(t, env.svc.loop.Do(context.Background(), func() {
		subscribers = env.svc.trackers["group"].subscribers("spindle")
	}))
	assert.Zero(t, subscribers)
}

func TestCommandRoundTrip(t *testing.T) {
	env := newTestService(t, testConfig())
	env.start(t)

	replies := env.listen(t, ReplyTopic("halrcmd", "client-1"))

	set := wire.New(wire.MTHalrcmdSet, "client-1")
	set.Signals = []wire.Signal{{Name: "spindle-on", Type: hal.TypeBit, Value: wire.Value{Bit: ptr(true)}}}
	env.command(t, "client-1", wire.New(wire.MTPing, "client-1"), set)

	msg, envs := env.receive(t, replies, true)
	require.Len(t, envs, 2)
	assert.Equal(t, wire.MTPingAcknowledge, envs[0].Type)
	assert.Equal(t, 4242, envs[0].PID)
	assert.Equal(t, wire.MTHalrcmdAck, envs[1].Type)
	assert.Equal(t, "client-1", msg.Metadata.Get(metadatapkg.KeyOrigin))
	assert.NotEmpty(t, msg.Metadata.Get(metadatapkg.KeyCorrelationID))

	s, err := env.store.SignalByName("spindle-on")
	require.NoError(t, err)
	assert.Equal(t, hal.BitValue(true), s.Value)
}

func TestCommandSilentRepliesPublishNothing(t *testing.T) {
	env := newTestService(t, testConfig())
	env.start(t)

	replies := env.listen(t, ReplyTopic("halrcmd", "panel"))
	env.command(t, "panel", wire.New(wire.MTHalrcompSet, "panel"))
	expectSilence(t, replies, 100*time.Millisecond)
}

func TestUndecodableFrameIsDroppedWithoutReply(t *testing.T) {
	env := newTestService(t, testConfig())
	logger := &recordingServiceLogger{}
	env.svc.Logger = logger
	env.start(t)

	replies := env.listen(t, ReplyTopic("halrcmd", "client-2"))
	env.raw(t, "client-2", wire.JoinFrames([]byte("{not json")))

	expectSilence(t, replies, 200*time.Millisecond)
	assert.Contains(t, logger.errorMessages(), "unprocessable frame")
}

func TestUndecodableFrameDoesNotSilenceItsBatch(t *testing.T) {
	env := newTestService(t, testConfig())
	env.start(t)

	replies := env.listen(t, ReplyTopic("halrcmd", "client-2"))
	ping, err := env.svc.Codec().Encode(wire.New(wire.MTPing, ""))
	require.NoError(t, err)
	env.raw(t, "client-2", wire.JoinFrames([]byte("{not json"), ping))

	_, envs := env.receive(t, replies, true)
	require.Len(t, envs, 1)
	assert.Equal(t, wire.MTPingAcknowledge, envs[0].Type)
}

func TestMalformedPayloadGoesToPoisonQueue(t *testing.T) {
	conf := testConfig()
	conf.PoisonQueue = "halrcmd.poison"
	env := newTestService(t, conf)
	env.start(t)

	poison := env.listen(t, "halrcmd.poison")
	replies := env.listen(t, ReplyTopic("halrcmd", "client-3"))

	garbage := []byte{0xff, 0xff, 0xff}
	env.raw(t, "client-3", garbage)

	select {
	case msg := <-poison:
		msg.Ack()
		assert.Equal(t, garbage, []byte(msg.Payload))
		assert.NotEmpty(t, msg.Metadata.Get("reason_poisoned"))
	case <-time.After(5 * time.Second):
		t.Fatal("malformed payload did not reach the poison queue")
	}
	expectSilence(t, replies, 50*time.Millisecond)
}

func TestCommandWithoutOriginIsDropped(t *testing.T) {
	log := &recordingServiceLogger{}
	store, err := memstore.LoadFixture(strings.NewReader(testFixture))
	require.NoError(t, err)
	svc, err := TryNewService(testConfig(), log, context.Background(), ServiceDependencies{
		Store:     store,
		Announcer: &recordingAnnouncer{},
	})
	require.NoError(t, err)
	env := &testEnv{svc: svc, store: store}
	env.start(t)

	env.raw(t, "", wire.JoinFrames([]byte(`{"type":"PING"}`)))
	require.Eventually(t, func() bool {
		for _, msg := range log.errorMessages() {
			if msg == "unprocessable frame" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetricsFollowTraffic(t *testing.T) {
	conf := testConfig()
	conf.MetricsEnabled = true
	env := newTestService(t, conf)
	env.start(t)

	replies := env.listen(t, ReplyTopic("halrcmd", "client-4"))
	env.command(t, "client-4", wire.New(wire.MTPing, "client-4"))
	env.receive(t, replies, true)

	updates := env.listen(t, StatusTopic("halgroup", "motion-status"))
	env.control(t, "halgroup", true, "motion-status")
	env.receive(t, updates, false)

	require.Eventually(t, func() bool {
		count, err := testutil.GatherAndCount(env.registry, "haltalk_requests_total", "haltalk_broadcasts_total", "haltalk_active_topics")
		return err == nil && count >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServiceKeepalive(t *testing.T) {
	conf := testConfig()
	conf.KeepaliveInterval = 20 * time.Millisecond
	env := newTestService(t, conf)
	env.start(t)

	updates := env.listen(t, StatusTopic("halgroup", "motion-status"))
	env.control(t, "halgroup", true, "motion-status")
	_, envs := env.receive(t, updates, false)
	require.Equal(t, wire.MTHalgroupFullUpdate, envs[0].Type)

	_, envs = env.receive(t, updates, false)
	assert.Equal(t, wire.MTPing, envs[0].Type)
	assert.Zero(t, envs[0].Serial)
}

func TestServiceCloseReleasesAnnouncer(t *testing.T) {
	env := newTestService(t, testConfig())
	require.NoError(t, env.svc.Close())
	assert.True(t, env.announcer.closed)
}

func TestDefaultAnnouncerFollowsConfig(t *testing.T) {
	env := newTestService(t, testConfig())
	_, ok := env.svc.announcer.(*recordingAnnouncer)
	assert.True(t, ok)

	svc, err := TryNewService(testConfig(), loggingpkg.NewNopLogger(), context.Background(), ServiceDependencies{Store: memstore.New()})
	require.NoError(t, err)
	_, ok = svc.announcer.(LogAnnouncer)
	assert.True(t, ok)

	conf := testConfig()
	conf.NATSURL = "nats://localhost:4222"
	svc, err = TryNewService(conf, loggingpkg.NewNopLogger(), context.Background(), ServiceDependencies{Store: memstore.New()})
	require.NoError(t, err)
	na, ok := svc.announcer.(*NATSAnnouncer)
	require.True(t, ok)
	assert.Equal(t, configpkg.DefaultAnnounceSubject, na.Subject)
}

func ptr[T any](v T) *T { return &v }
