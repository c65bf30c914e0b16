// Package haltalk is a status and command broker for a shared-memory
// hardware abstraction layer, built on Watermill. Remote clients subscribe to
// groups of signals and to remote components, receive full and incremental
// updates driven by per-topic scan timers, and send bind, set, get and
// describe requests on a command channel.
//
// Service hosts the router, the reactor loop that owns all engine state, and
// the publisher that frames envelopes onto status topics. A minimal setup
// loads a store (LoadFixtureFile for the in-memory store), fills Config,
// creates a Service and calls Start; cmd/haltalk does exactly that.
//
// # Transports
//
// haltalk supports 4 message transports out of the box:
//   - channel: In-memory Go channels for testing
//   - nats: Core NATS subjects
//   - kafka: Partitioned logs with per-process consumer groups
//   - rabbitmq: AMQP topic exchanges with a queue per process
//
// # Channels
//
// Three endpoints share one transport. halgroup and halrcomp publish status
// envelopes on "<endpoint>.<name>" and read subscribe and unsubscribe control
// frames from "<endpoint>.subscriptions". halrcmd reads framed requests from
// its endpoint and answers on "<endpoint>.reply.<origin>".
//
// # Middleware
//
// The default middleware chain includes correlation ID injection, structured
// logging, OpenTelemetry tracing, Prometheus metrics, poison queue forwarding
// and panic recovery. Custom middleware can be added via
// ServiceDependencies.Middlewares.
package haltalk
