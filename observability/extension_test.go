package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/observability"
)

func setup() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

// counts collects every Int64 sum as name/queue -> value.
func counts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				q, _ := dp.Attributes.Value(attribute.Key("queue"))
				out[m.Name+"/"+q.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := setup()
	if e.Name() != "observability-metrics" {
		t.Errorf("unexpected name %q", e.Name())
	}
}

func TestMetricsExtension_CountsThroughRegistry(t *testing.T) {
	e, reader := setup()
	r := ext.NewRegistry(slog.New(slog.DiscardHandler))
	r.Register(e)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Name: "send-email", Queue: "emails"}

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobFinished(ctx, j, 10*time.Millisecond)
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobFailed(ctx, j, errors.New("boom"))
	r.EmitJobCancelled(ctx, j)
	r.EmitJobReaped(ctx, j)
	r.EmitQueuesCleared(ctx, []string{"q1", "q2"})

	got := counts(t, reader)
	want := map[string]int64{
		"backlog.job.enqueued/emails":  2,
		"backlog.job.finished/emails":  1,
		"backlog.job.retried/emails":   1,
		"backlog.job.failed/emails":    1,
		"backlog.job.cancelled/emails": 1,
		"backlog.job.reaped/emails":    1,
		"backlog.queue.cleared/q1":     1,
		"backlog.queue.cleared/q2":     1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %d, want %d", k, got[k], v)
		}
	}
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnJobEnqueued(context.Background(), &job.Job{Queue: "default"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
