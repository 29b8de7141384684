// Package pulsehub is a small real-time event distribution layer on top of
// Watermill. It resolves a shared backend (NATS with JetStream KV by default,
// Kafka or RabbitMQ for fan-out-only deployments, or an in-process fallback),
// and builds three primitives on whatever it resolved: a TTL cache, a
// fixed-window rate limiter, and an event hub that multiplexes events to
// per-(tenant, resource) subscribers.
//
// Resolution is policy-driven via Config.BackendKind: "auto" tries the remote
// backend and degrades to the in-process backend when it is unreachable,
// "remote" degrades to a disabled backend that fails fast, and "inMemory"
// skips the remote attempt entirely. The outcome is captured in a
// BackendDescriptor so callers can surface degraded modes; it never prevents
// the service from starting. A Service resolves once at construction, and the
// cache, limiters, and hub all share the resolved backend.
//
// # Backends
//
// Four backends ship out of the box:
//   - nats: NATS core pub/sub plus JetStream KV for shared cache and counters
//   - kafka: broker-only fan-out, cache and counters stay process-local
//   - rabbitmq: broker-only fan-out over AMQP
//   - memory: Go channel pub/sub and a process-local TTL store
//
// Backends register themselves on import:
//
//	import _ "github.com/drblury/pulsehub/backend/backends"
//
// Custom backends implement backend.Builder and register under their own
// name; Config.RemoteBackend selects them.
//
// # Streaming
//
// StreamEvents adapts a hub subscription to Server-Sent Events: it writes a
// synthetic metadata frame first, so clients never observe an empty stream,
// then forwards each event as an SSE frame until the client disconnects. Slow
// consumers are isolated per subscription; when a subscriber's queue fills,
// events for that subscriber are dropped and counted rather than delaying the
// rest.
//
// The rate limiter counts on the backend's atomic counters and can fail open:
// Service.RateLimiter allows traffic when the backend is unreachable, while
// Service.StrictRateLimiter propagates the error. Prometheus metrics and
// OpenTelemetry spans cover publishes, deliveries, drops, cache ops, and
// limiter decisions.
package pulsehub
