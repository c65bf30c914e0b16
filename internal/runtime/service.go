package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/haltalk/internal/hal"
	configpkg "github.com/drblury/haltalk/internal/runtime/config"
	"github.com/drblury/haltalk/internal/runtime/engine"
	errspkg "github.com/drblury/haltalk/internal/runtime/errors"
	idspkg "github.com/drblury/haltalk/internal/runtime/ids"
	loggingpkg "github.com/drblury/haltalk/internal/runtime/logging"
	"github.com/drblury/haltalk/internal/runtime/reactor"
	"github.com/drblury/haltalk/internal/wire"
	"github.com/drblury/haltalk/transport"
	_ "github.com/drblury/haltalk/transport/transports"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the collaborators of a Service. Only Store is
// required.
type ServiceDependencies struct {
	// Store is the data store the broker serves.
	Store hal.Store

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.

	// Transports resolves Config.PubSubSystem; nil uses transport.DefaultRegistry.
	Transports *transport.Registry

	// Registerer and Gatherer back the metrics; nil uses the Prometheus
	// defaults.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Announcer advertises the endpoints on start. Nil announces over NATS
	// when a NATS URL is configured and to the log otherwise.
	Announcer Announcer

	// PID is the owner identity used when acquiring components; zero uses
	// the process id.
	PID int
}

// Service wires the engines to a watermill router, publisher and subscriber.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	closer     func() error
	router     *message.Router

	codec     wire.Codec
	caps      transport.Capabilities
	status    *statusPublisher
	loop      *reactor.Loop
	registry  *engine.Registry
	trackers  map[engine.Channel]*subscriptionTracker
	announcer Announcer

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service and panics on error. Use TryNewService to
// handle construction errors.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService validates conf, builds the transport and registers the
// subscription and command handlers. Call Start to serve.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	switch {
	case conf == nil:
		return nil, errspkg.ErrConfigRequired
	case log == nil:
		return nil, errspkg.ErrLoggerRequired
	case deps.Store == nil:
		return nil, errspkg.ErrStoreRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	codec, err := wire.CodecFor(conf.WireFormat)
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating haltalk service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"wire_format":   codec.Name(),
		"config":        conf,
	})

	s := &Service{
		Conf:       conf,
		Logger:     log,
		codec:      codec,
		loop:       reactor.New(log),
		registerer: deps.Registerer,
		gatherer:   deps.Gatherer,
		trackers: map[engine.Channel]*subscriptionTracker{
			engine.ChannelGroup:     newSubscriptionTracker(),
			engine.ChannelComponent: newSubscriptionTracker(),
		},
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	transports := deps.Transports
	if transports == nil {
		transports = transport.DefaultRegistry
	}
	tr, err := transports.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, err
	}
	s.publisher, s.subscriber, s.closer = tr.Publisher, tr.Subscriber, tr.Close
	s.caps = transports.GetCapabilities(conf.PubSubSystem)
	if !s.caps.SupportsFanOut {
		log.Info("Transport does not fan out; status subscribers will compete for updates", loggingpkg.LogFields{"transport": s.caps.Name})
	}

	if err := s.assemble(deps, wmLogger); err != nil {
		_ = s.closer()
		return nil, err
	}
	return s, nil
}

// assemble builds the engines, the router and its handlers.
func (s *Service) assemble(deps ServiceDependencies, wmLogger watermill.LoggerAdapter) error {
	uuid := idspkg.NewProcessUUID()
	pid := deps.PID
	if pid == 0 {
		pid = os.Getpid()
	}

	s.status = &statusPublisher{
		pub:   s.publisher,
		codec: s.codec,
		caps:  s.caps,
		uuid:  uuid,
		endpoints: map[engine.Channel]string{
			engine.ChannelGroup:     s.Conf.GroupEndpoint,
			engine.ChannelComponent: s.Conf.ComponentEndpoint,
		},
	}

	var observer engine.Observer
	if s.Conf.MetricsEnabled {
		m, err := newMetricsObserver(s.registerer)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		observer = m
	}

	registry, err := engine.New(engine.Options{
		Store:                 deps.Store,
		Publisher:             s.status,
		Timers:                s.loop,
		Logger:                s.Logger,
		Observer:              observer,
		UUID:                  uuid,
		PID:                   pid,
		GroupScanInterval:     s.Conf.GroupScanInterval,
		ComponentScanInterval: s.Conf.ComponentScanInterval,
	})
	if err != nil {
		return err
	}
	s.registry = registry

	s.announcer = deps.Announcer
	if s.announcer == nil {
		s.announcer = LogAnnouncer{Logger: s.Logger}
		if s.Conf.NATSURL != "" {
			s.announcer = &NATSAnnouncer{URL: s.Conf.NATSURL, Subject: s.Conf.AnnounceSubject}
		}
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, wmLogger)
	if err != nil {
		return err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return err
	}
	s.registerHandlers()
	return nil
}

func (s *Service) registerHandlers() {
	s.router.AddNoPublisherHandler(
		"halgroup_subscriptions",
		SubscriptionTopic(s.Conf.GroupEndpoint),
		s.subscriber,
		s.handleSubscriptions(engine.ChannelGroup),
	)
	s.router.AddNoPublisherHandler(
		"halrcomp_subscriptions",
		SubscriptionTopic(s.Conf.ComponentEndpoint),
		s.subscriber,
		s.handleSubscriptions(engine.ChannelComponent),
	)
	s.router.AddNoPublisherHandler(
		"halrcmd",
		s.Conf.CommandEndpoint,
		s.subscriber,
		s.handleCommand,
	)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Start runs the reactor, discovers groups and components, announces the
// endpoints and serves until ctx is cancelled or the router stops.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- s.loop.Run(ctx) }()

	if err := s.loop.Do(ctx, s.registry.Discover); err != nil {
		return err
	}
	if s.Conf.KeepaliveInterval > 0 {
		s.loop.AddTimer(s.Conf.KeepaliveInterval, s.registry.Keepalive)
	}

	s.StartWebUIServer()
	s.startHTTPServers(ctx)

	if err := s.announcer.Announce(ctx, s.records()); err != nil {
		s.Logger.Error("Announcement failed", err, nil)
	}

	err := routerRun(s.router, ctx)
	cancel()
	if loopErr := <-loopDone; loopErr != nil && err == nil {
		err = loopErr
	}
	return err
}

// Running is closed once the router has subscribed to its topics.
func (s *Service) Running() chan struct{} { return s.router.Running() }

// Close stops the router and releases the transport and announcer.
func (s *Service) Close() error {
	return errors.Join(s.router.Close(), s.announcer.Close(), s.closer())
}

// Publisher returns the transport publisher, for clients in the same
// process.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Subscriber returns the transport subscriber, for clients in the same
// process.
func (s *Service) Subscriber() message.Subscriber { return s.subscriber }

// Codec returns the envelope codec in use.
func (s *Service) Codec() wire.Codec { return s.codec }

// UUID returns the process identity stamped on every envelope.
func (s *Service) UUID() string { return s.registry.UUID() }

// Topics lists groups and components with their scan state.
func (s *Service) Topics(ctx context.Context) ([]engine.TopicStatus, error) {
	var topics []engine.TopicStatus
	err := s.loop.Do(ctx, func() { topics = s.registry.Topics() })
	return topics, err
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(ctx context.Context) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
}
