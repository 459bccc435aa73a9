// Package observe provides telemetry for protected calls.
//
// NewObserver sets up the OpenTelemetry tracer and meter providers and a
// zap-backed JSON Logger from a Config. On top of those:
//
//   - EventRecorder implements resilience.Observer and turns component
//     decisions (rejections, state changes, retries) into metrics and logs.
//   - Middleware wraps a call with a span, call metrics and a log line.
//   - RegisterGauges publishes circuit states and limiter levels.
//
// The package does no I/O beyond exporter setup.
package observe
