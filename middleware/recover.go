package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/backlog/job"
)

// PanicError is returned by Recover when the handler panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover returns middleware that turns a handler panic into a *PanicError
// so a single bad job cannot take the worker down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			stack := debug.Stack()
			logger.Error("job handler panicked",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Any("panic", r),
				slog.String("stack", string(stack)),
			)
			err = &PanicError{Value: r, Stack: stack}
		}()
		return next(ctx)
	}
}
