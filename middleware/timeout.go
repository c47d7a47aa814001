package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/job"
)

// Timeout returns middleware that enforces a per-execution deadline. The
// job's own Timeout wins; fallback applies when it is zero. With both zero
// the handler runs unbounded.
func Timeout(logger *slog.Logger, fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Timeout
		if d <= 0 {
			d = fallback
		}
		if d <= 0 {
			return next(ctx)
		}

		logger.Debug("job deadline set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
