package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		Name:       "send-email",
		Queue:      "default",
		Title:      "welcome mail",
		RetryCount: 2,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	record := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(record("mw1"), record("mw2"))
	err := chain(context.Background(), newTestJob(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("order = %v, want %v", order, expected)
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *job.Job, next middleware.Handler) error { return next(ctx) }
	want := errors.New("handler error")

	err := middleware.Chain(pass, pass)(context.Background(), newTestJob(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(discardLogger())

	err := mw(context.Background(), newTestJob(), func(context.Context) error {
		panic("test panic")
	})

	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %T (%v)", err, err)
	}
	if pe.Value != "test panic" {
		t.Errorf("Value = %v, want %q", pe.Value, "test panic")
	}
	if err.Error() != "panic: test panic" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if len(pe.Stack) == 0 {
		t.Error("expected a stack trace")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	want := errors.New("plain failure")
	err := middleware.Recover(discardLogger())(context.Background(), newTestJob(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestLogging_WritesOutcome(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"success", nil, "job finished"},
		{"failure", errors.New("fail"), "job failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			j := newTestJob()

			err := middleware.Logging(logger)(context.Background(), j, func(context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}

			out := buf.String()
			for _, want := range []string{"job started", tt.wantMsg, j.ID.String(), `title="welcome mail"`} {
				if !strings.Contains(out, want) {
					t.Errorf("log output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		name         string
		jobTimeout   time.Duration
		fallback     time.Duration
		wantDeadline bool
	}{
		{"none", 0, 0, false},
		{"job timeout", time.Minute, 0, true},
		{"fallback", 0, time.Minute, true},
		{"job wins", time.Second, time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newTestJob()
			j.Timeout = tt.jobTimeout

			var deadline time.Time
			var ok bool
			err := middleware.Timeout(discardLogger(), tt.fallback)(context.Background(), j, func(ctx context.Context) error {
				deadline, ok = ctx.Deadline()
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantDeadline {
				t.Fatalf("deadline set = %v, want %v", ok, tt.wantDeadline)
			}
			if tt.jobTimeout > 0 && time.Until(deadline) > tt.jobTimeout {
				t.Errorf("deadline %v is later than the job timeout", deadline)
			}
		})
	}
}

func TestTimeout_Expires(t *testing.T) {
	j := newTestJob()
	j.Timeout = 10 * time.Millisecond

	err := middleware.Timeout(discardLogger(), 0)(context.Background(), j, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
