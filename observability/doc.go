// Package observability provides an OpenTelemetry-based metrics
// extension for fairqueue. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for item enqueue, dequeue,
// completion, retry, terminal failure, burst, and starvation events.
//
// For per-processing tracing and histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
