package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/haltalk/internal/hal/memstore"
	configpkg "github.com/drblury/haltalk/internal/runtime/config"
	idspkg "github.com/drblury/haltalk/internal/runtime/ids"
	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
	metadatapkg "github.com/drblury/haltalk/internal/runtime/metadata"
	"github.com/drblury/haltalk/internal/wire"
)

type testPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, topic)
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]string, len(p.published))
	copy(clone, p.published)
	return clone
}

type recordingServiceLogger struct {
	mu     sync.Mutex
	traces int
	infos  []string
	errors []string
}

func (r *recordingServiceLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }
func (r *recordingServiceLogger) Debug(string, loggingpkg.LogFields)                 {}

func (r *recordingServiceLogger) Info(msg string, _ loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *recordingServiceLogger) Error(msg string, _ error, _ loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recordingServiceLogger) Trace(string, loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces++
}

func (r *recordingServiceLogger) infoMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.infos...)
}

func (r *recordingServiceLogger) errorMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

type recordingAnnouncer struct {
	mu      sync.Mutex
	records []ServiceRecord
	closed  bool
}

func (a *recordingAnnouncer) Announce(_ context.Context, records []ServiceRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, records...)
	return nil
}

func (a *recordingAnnouncer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *recordingAnnouncer) announced() []ServiceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ServiceRecord(nil), a.records...)
}

const testFixture = `
signals:
  - {name: x-pos, type: float}
  - {name: y-pos, type: float}
  - {name: spindle-on, type: bit}
groups:
  - name: motion-status
    scan_ms: 10
    members:
      - {signal: x-pos}
      - {signal: y-pos}
threads:
  - {name: servo-thread, period_ns: 1000000}
`

func testConfig() *configpkg.Config {
	conf := &configpkg.Config{
		PubSubSystem:          "channel",
		ComponentScanInterval: 10 * time.Millisecond,
	}
	conf.ApplyDefaults()
	return conf
}

type testEnv struct {
	svc       *Service
	store     *memstore.Store
	announcer *recordingAnnouncer
	registry  *prometheus.Registry
}

func newTestService(t *testing.T, conf *configpkg.Config) *testEnv {
	t.Helper()
	store, err := memstore.LoadFixture(strings.NewReader(testFixture))
	require.NoError(t, err)

	env := &testEnv{
		store:     store,
		announcer: &recordingAnnouncer{},
		registry:  prometheus.NewRegistry(),
	}
	env.svc, err = TryNewService(conf, loggingpkg.NewNopLogger(), context.Background(), ServiceDependencies{
		Store:      store,
		Registerer: env.registry,
		Gatherer:   env.registry,
		Announcer:  env.announcer,
		PID:        4242,
	})
	require.NoError(t, err)
	return env
}

// start runs the service until the test ends.
func (e *testEnv) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.svc.Start(ctx) }()

	select {
	case <-e.svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
		_ = e.svc.Close()
	})
}

// listen subscribes to topic on the service's own transport.
func (e *testEnv) listen(t *testing.T, topic string) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := e.svc.Subscriber().Subscribe(ctx, topic)
	require.NoError(t, err)
	return ch
}

func (e *testEnv) control(t *testing.T, endpoint string, subscribe bool, topic string) {
	t.Helper()
	msg := message.NewMessage(idspkg.CreateULID(), ControlFrame(subscribe, topic))
	msg.Metadata.Set(metadatapkg.KeyOrigin, "test-client")
	require.NoError(t, e.svc.Publisher().Publish(SubscriptionTopic(endpoint), msg))
}

func (e *testEnv) command(t *testing.T, origin string, reqs ...*wire.Envelope) {
	t.Helper()
	frames := make([][]byte, 0, len(reqs))
	for _, req := range reqs {
		data, err := e.svc.Codec().Encode(req)
		require.NoError(t, err)
		frames = append(frames, data)
	}
	e.raw(t, origin, wire.JoinFrames(frames...))
}

func (e *testEnv) raw(t *testing.T, origin string, payload []byte) {
	t.Helper()
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	if origin != "" {
		msg.Metadata.Set(metadatapkg.KeyOrigin, origin)
	}
	require.NoError(t, e.svc.Publisher().Publish(e.svc.Conf.CommandEndpoint, msg))
}

// receive waits for one message and decodes its envelope frames.
func (e *testEnv) receive(t *testing.T, ch <-chan *message.Message, framed bool) (*message.Message, []*wire.Envelope) {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		frames := [][]byte{msg.Payload}
		if framed {
			var err error
			frames, err = wire.SplitFrames(msg.Payload)
			require.NoError(t, err)
		}
		envs := make([]*wire.Envelope, 0, len(frames))
		for _, f := range frames {
			env, err := e.svc.Codec().Decode(f)
			require.NoError(t, err)
			envs = append(envs, env)
		}
		return msg, envs
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil, nil
	}
}

func expectSilence(t *testing.T, ch <-chan *message.Message, d time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		t.Fatalf("unexpected message %s with metadata %v", msg.UUID, msg.Metadata)
	case <-time.After(d):
	}
}
