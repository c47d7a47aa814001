package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/job"
)

// Logging returns middleware that logs job start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
		}
		if j.HasTitle() {
			attrs = append(attrs, slog.String("title", j.Title))
		}
		log := logger.With(attrs...)

		log.Info("job started", slog.Int("attempt", j.RetryCount+1))

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			log.Error("job failed",
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}
		log.Info("job finished", slog.Duration("elapsed", elapsed))
		return nil
	}
}
