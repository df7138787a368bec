// Package observability provides structured logging, Prometheus metrics,
// and optional OpenTelemetry tracing for the authorization engine.
//
// The Logger wraps log/slog with a JSON handler and chainable field
// helpers. Metrics cover the authorization decision path (cache hits,
// evaluations), the session lifecycle (logins, refreshes, replays), and
// password reset flows.
package observability
