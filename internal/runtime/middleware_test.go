package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/haltalk/internal/runtime/config"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	idspkg "github.com/drblury/haltalk/internal/runtime/ids"
	"github.com/drblury/haltalk/internal/wire"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.correlationIDMiddleware()

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		called := false
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			called = true
			if m.Metadata["correlation_id"] == "" {
				t.Fatal("expected correlation id to be populated")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Fatal("handler not invoked")
		}
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.CreateULID(), nil)
		msg.Metadata = message.Metadata{"correlation_id": "fixed"}
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			if m.Metadata["correlation_id"] != "fixed" {
				t.Fatal("expected correlation id to be preserved")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestPoisonMiddlewareWithFilter(t *testing.T) {
	t.Parallel()

	svc := &Service{
		Conf:      &configpkg.Config{PoisonQueue: "poison"},
		publisher: &testPublisher{},
	}
	mw, err := svc.poisonMiddlewareWithFilter(isUnprocessable)
	if err != nil {
		t.Fatalf("unexpected error creating poison middleware: %v", err)
	}
	pub := svc.publisher.(*testPublisher)

	_, _ = mw(func(m *message.Message) ([]*message.Message, error) {
		return nil, errors.New("transient")
	})(message.NewMessage(idspkg.CreateULID(), nil))
	if len(pub.Topics()) != 0 {
		t.Fatalf("expected ordinary errors to stay out of the poison queue: %#v", pub.Topics())
	}

	_, _ = mw(func(m *message.Message) ([]*message.Message, error) {
		return nil, &errspkg.UnprocessableFrameError{Origin: "panel", Err: wire.ErrMalformedFrame}
	})(message.NewMessage(idspkg.CreateULID(), nil))
	if len(pub.Topics()) != 1 || pub.Topics()[0] != "poison" {
		t.Fatalf("expected poison message to be published: %#v", pub.Topics())
	}

	t.Run("returns error when publisher is missing", func(t *testing.T) {
		svc := &Service{Conf: &configpkg.Config{PoisonQueue: "poison"}}
		if _, err := svc.poisonMiddlewareWithFilter(isUnprocessable); err == nil {
			t.Fatal("expected error when publisher is missing")
		}
	})
}

func TestPoisonQueueMiddlewareSkippedWithoutQueue(t *testing.T) {
	t.Parallel()

	svc := &Service{Conf: &configpkg.Config{}, publisher: &testPublisher{}}
	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mw != nil {
		t.Fatal("expected no middleware without a poison queue")
	}
}

func TestLogMessagesMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	logger := &recordingServiceLogger{}
	mw := svc.logMessagesMiddleware(logger)
	msg := message.NewMessage(idspkg.CreateULID(), []byte{0, 1, 2})
	msg.Metadata = message.Metadata{"origin": "panel"}
	_, err := mw(func(m *message.Message) ([]*message.Message, error) { return nil, nil })(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.traces == 0 {
		t.Fatal("expected log entry to be recorded")
	}
}

func TestTracerMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.tracerMiddleware()
	msg := message.NewMessage(idspkg.CreateULID(), nil)
	msg.SetContext(context.Background())
	var observed trace.Span
	boom := errors.New("boom")
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		observed = trace.SpanFromContext(m.Context())
		return nil, boom
	})(msg)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}
	if observed == nil {
		t.Fatal("expected span to be attached to context")
	}
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	t.Parallel()

	t.Run("requires router", func(t *testing.T) {
		svc := &Service{}
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Middleware: func(h message.HandlerFunc) message.HandlerFunc { return h },
		})
		if err == nil {
			t.Fatal("expected error without router")
		}
	})

	t.Run("requires middleware or builder", func(t *testing.T) {
		svc := &Service{router: newTestRouter(t)}
		if err := svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"}); err == nil {
			t.Fatal("expected error for empty registration")
		}
	})

	t.Run("invokes builder", func(t *testing.T) {
		svc := &Service{router: newTestRouter(t)}
		called := false
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				called = true
				return nil, nil
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Fatal("expected builder to be invoked")
		}
	})

	t.Run("handles builder error", func(t *testing.T) {
		svc := &Service{router: newTestRouter(t)}
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				return nil, errors.New("builder failed")
			},
		})
		if err == nil {
			t.Fatal("expected builder error")
		}
	})
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		svc := &Service{Conf: &configpkg.Config{}}
		mw, err := MetricsMiddleware().Builder(svc)
		if err != nil || mw != nil {
			t.Fatalf("expected no middleware when metrics are disabled, got %v, %v", mw, err)
		}
	})

	t.Run("enabled with metrics port", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		svc := &Service{
			Conf:       &configpkg.Config{MetricsEnabled: true, MetricsPort: 9464, PubSubSystem: "channel"},
			router:     newTestRouter(t),
			registerer: reg,
			gatherer:   reg,
		}
		mw, err := MetricsMiddleware().Builder(svc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mw == nil {
			t.Fatal("expected metrics middleware")
		}
		if _, ok := svc.httpServers[9464]; !ok {
			t.Fatal("expected /metrics to be registered on the metrics port")
		}
	})
}

func newTestRouter(t *testing.T) *message.Router {
	t.Helper()
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return router
}
