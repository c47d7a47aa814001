// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, a Worker that claims
// and runs jobs one at a time, and a Pool that runs several Workers over
// the same queues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
)

// Executor runs a single claimed job through middleware and the registered
// handler, then settles it: a success deletes the record, a failure either
// requeues it with a backoff delay or deletes it and records a failure.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. Panic
// recovery is always installed as the innermost middleware. dlqService may
// be nil, in which case exhausted failures are only logged.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	chain := append(append([]middleware.Middleware(nil), mws...), middleware.Recover(logger))
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(chain...),
		logger:     logger,
	}
}

// Execute runs j and settles it. Handler errors and panics come back in
// the Result as a *backlog.JobExecutionError; they are never returned as
// a Go error. Failures to settle the record are logged.
func (e *Executor) Execute(ctx context.Context, j *job.Job) job.Result {
	start := time.Now()

	terminal := func(ctx context.Context) error {
		handler, ok := e.registry.Get(j.Name)
		if !ok {
			return fmt.Errorf("%w: %q", backlog.ErrUnknownJob, j.Name)
		}
		return handler(ctx, j)
	}

	err := e.mw(ctx, j, terminal)
	res := job.Result{Elapsed: time.Since(start)}

	if err == nil {
		e.handleSuccess(ctx, j, res.Elapsed)
		return res
	}

	res.Err = &backlog.JobExecutionError{JobID: j.ID.String(), Name: j.Name, Err: err}
	e.handleFailure(ctx, j, err, res.Err)
	return res
}

// handleSuccess removes the record and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) {
	j.State = job.StateFinished

	if err := e.store.DeleteJob(ctx, j.ID); err != nil && !errors.Is(err, backlog.ErrJobNotFound) {
		e.logger.Error("failed to delete finished job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}

	e.extensions.EmitJobFinished(ctx, j, elapsed)
}

// handleFailure increments the retry counter and either retries or records
// the failure.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, cause, execErr error) {
	j.RetryCount++
	j.LastError = cause.Error()

	if j.RetryCount <= j.MaxRetries {
		e.scheduleRetry(ctx, j)
		return
	}
	e.recordFailure(ctx, j, cause, execErr)
}

// scheduleRetry puts the job back at the tail of its queue, claimable
// after the backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job) {
	delay := e.backoff.Delay(j.RetryCount)
	j.RunAt = time.Now().UTC().Add(delay)
	j.State = job.StateQueued

	if err := e.store.RequeueJob(ctx, j); err != nil {
		e.logger.Error("failed to requeue job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, j.RunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
}

// recordFailure deletes the record, pushes it to the DLQ and emits events.
func (e *Executor) recordFailure(ctx context.Context, j *job.Job, cause, execErr error) {
	j.State = job.StateFailed

	if err := e.store.DeleteJob(ctx, j.ID); err != nil && !errors.Is(err, backlog.ErrJobNotFound) {
		e.logger.Error("failed to delete failed job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if e.dlqService != nil {
		if err := e.dlqService.Push(ctx, j, cause); err != nil {
			e.logger.Error("failed to record job failure",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, execErr)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", execErr.Error()),
	)
}
