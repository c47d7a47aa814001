package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog/job"
)

// instrumentationName is the OTel scope for spans and instruments.
const instrumentationName = "github.com/xraph/backlog"

// Tracing returns middleware that wraps job execution in a span from the
// global TracerProvider. Without a configured provider the noop tracer is
// used.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span "backlog.job.execute" carries backlog.job.id, backlog.job.name,
// backlog.queue and backlog.attempt. Failures record the error and set
// codes.Error.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("backlog.job.id", j.ID.String()),
			attribute.String("backlog.job.name", j.Name),
			attribute.String("backlog.queue", j.Queue),
			attribute.Int("backlog.attempt", j.RetryCount+1),
		}
		if j.HasTitle() {
			attrs = append(attrs, attribute.String("backlog.job.title", j.Title))
		}

		ctx, span := tracer.Start(ctx, "backlog.job.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
