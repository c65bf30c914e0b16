/*
Package runtime hosts the haltalk broker on top of Watermill.

# Architecture Overview

A Service owns one transport, one Watermill router and one reactor loop. The
router delivers subscription control frames and command requests; every
handler hands its work to the loop, which is the only goroutine that touches
the engine and the store. Scan timers, keepalives and introspection calls run
on the same loop.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill)
  - Publisher and subscriber connections from the transport registry
  - Middleware chain
  - Engine registry and reactor loop
  - HTTP servers for metrics and the web UI
  - Service announcer

## Channels (subscriptions.go, commands.go, publisher.go)

  - halgroup and halrcomp: control frames on <endpoint>.subscriptions drive
    the subscriber count of each topic; status envelopes go out on
    <endpoint>.<name>.
  - halrcmd: requests on the command endpoint are answered on
    <endpoint>.reply.<origin>.

## Middleware (middleware.go)

  - CorrelationID: Ensures message traceability
  - LogMessages: Trace logging of received frames
  - Tracer: OpenTelemetry spans per handler
  - Metrics: Prometheus metrics collection
  - PoisonQueue: Forwards unprocessable frames when a queue is configured
  - Recoverer: Panic recovery

## Introspection (webui.go, metrics.go, announce.go)

HTTP endpoints list the known topics and describe the store, Prometheus
collectors follow broadcasts, requests and scans, and announcers publish the
service records of the three endpoints.

# Sub-packages

  - config/: Service configuration with validation
  - engine/: Groups, remote components, item cache and command handling
  - errors/: Sentinel errors and error types
  - ids/: ULID message IDs and process UUIDs
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - reactor/: Single-threaded event loop with timers

# Usage Example

	store, _ := memstore.LoadFixtureFile("hal.yaml")
	cfg := &config.Config{PubSubSystem: "nats", NATSURL: "nats://localhost:4222"}

	svc := runtime.NewService(cfg, logger, ctx, runtime.ServiceDependencies{Store: store})
	defer svc.Close()

	_ = svc.Start(ctx)
*/
package runtime
