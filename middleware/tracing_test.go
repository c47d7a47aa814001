package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/xraph/backlog/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	j := newTestJob()

	err := mw.TracingWithTracer(tracer)(context.Background(), j, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "backlog.job.execute" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}

	expected := map[string]any{
		"backlog.job.id":    j.ID.String(),
		"backlog.job.name":  "send-email",
		"backlog.job.title": "welcome mail",
		"backlog.queue":     "default",
		"backlog.attempt":   int64(3),
	}
	got := make(map[string]any)
	for _, a := range spans[0].Attributes() {
		switch a.Value.Type() {
		case attribute.STRING:
			got[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			got[string(a.Key)] = a.Value.AsInt64()
		}
	}
	for key, want := range expected {
		if got[key] != want {
			t.Errorf("attribute %q = %v, want %v", key, got[key], want)
		}
	}
}

func TestTracing_Error_SetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()

	handlerErr := errors.New("handler failed")
	err := mw.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(context.Context) error {
		return handlerErr
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}

	span := sr.Ended()[0]
	if span.Status().Code != codes.Error || span.Status().Description != "handler failed" {
		t.Errorf("unexpected status %+v", span.Status())
	}

	found := false
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			found = true
		}
	}
	if !found {
		t.Error("expected 'exception' event to be recorded on span")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()

	var inner trace.SpanContext
	_ = mw.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})

	if !inner.IsValid() {
		t.Fatal("expected valid span context in handler")
	}
	if inner.TraceID() != sr.Ended()[0].SpanContext().TraceID() {
		t.Error("handler span context trace ID does not match middleware span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}
