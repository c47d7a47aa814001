// Package middleware provides composable middleware for job execution.
// Middleware wraps the handler call synchronously and can observe or alter
// it (recover from panics, enforce deadlines, log, trace, measure).
package middleware

import (
	"context"

	"github.com/xraph/backlog/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// job being executed and the next handler; it MUST call next unless it
// deliberately short-circuits.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middleware into one. The first middleware in the list is
// the outermost wrapper:
//
//	Chain(logging, recover, timeout) runs logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) error {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}
