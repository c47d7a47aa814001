// Package observability provides an OpenTelemetry metrics extension.
// [MetricsExtension] implements the ext lifecycle hooks and counts
// enqueues, finishes, failures, retries, cancels, reaps and clears per
// queue.
//
// For per-execution spans and histograms see middleware.Tracing and
// middleware.Metrics.
package observability
