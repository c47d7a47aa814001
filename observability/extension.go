package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobEnqueued   = (*MetricsExtension)(nil)
	_ ext.JobFinished   = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.JobRetrying   = (*MetricsExtension)(nil)
	_ ext.JobCancelled  = (*MetricsExtension)(nil)
	_ ext.JobReaped     = (*MetricsExtension)(nil)
	_ ext.QueuesCleared = (*MetricsExtension)(nil)
)

// MetricsExtension counts job lifecycle events with OpenTelemetry
// counters. Every counter carries a "queue" attribute.
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	finished  metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	cancelled metric.Int64Counter
	reaped    metric.Int64Counter
	cleared   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter("github.com/xraph/backlog/observability"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// Noop instruments are returned alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		enqueued:  counter("backlog.job.enqueued", "Jobs accepted into a queue"),
		finished:  counter("backlog.job.finished", "Jobs that ran successfully"),
		failed:    counter("backlog.job.failed", "Jobs that failed with no retries left"),
		retried:   counter("backlog.job.retried", "Failed jobs returned to their queue"),
		cancelled: counter("backlog.job.cancelled", "Queued jobs removed without running"),
		reaped:    counter("backlog.job.reaped", "Running jobs recovered after a stale heartbeat"),
		cleared:   counter("backlog.queue.cleared", "Queues emptied by clear"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func inc(ctx context.Context, c metric.Int64Counter, queue string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	inc(ctx, m.enqueued, j.Queue)
	return nil
}

// OnJobFinished implements ext.JobFinished.
func (m *MetricsExtension) OnJobFinished(ctx context.Context, j *job.Job, _ time.Duration) error {
	inc(ctx, m.finished, j.Queue)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	inc(ctx, m.failed, j.Queue)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	inc(ctx, m.retried, j.Queue)
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	inc(ctx, m.cancelled, j.Queue)
	return nil
}

// OnJobReaped implements ext.JobReaped.
func (m *MetricsExtension) OnJobReaped(ctx context.Context, j *job.Job) error {
	inc(ctx, m.reaped, j.Queue)
	return nil
}

// OnQueuesCleared implements ext.QueuesCleared.
func (m *MetricsExtension) OnQueuesCleared(ctx context.Context, queues []string) error {
	for _, q := range queues {
		inc(ctx, m.cleared, q)
	}
	return nil
}
