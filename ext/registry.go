package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

func add[H any](hooks []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(hooks, entry[H]{name, h})
	}
	return hooks
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Extensions are sorted into per-hook slices at registration so an
// emit only visits extensions implementing that hook.
//
// Register is not safe to call concurrently with emits; register every
// extension before workers start.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued   []entry[JobEnqueued]
	jobStarted    []entry[JobStarted]
	jobFinished   []entry[JobFinished]
	jobFailed     []entry[JobFailed]
	jobRetrying   []entry[JobRetrying]
	jobCancelled  []entry[JobCancelled]
	jobReaped     []entry[JobReaped]
	queuesCleared []entry[QueuesCleared]
	shutdown      []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.jobEnqueued = add(r.jobEnqueued, name, e)
	r.jobStarted = add(r.jobStarted, name, e)
	r.jobFinished = add(r.jobFinished, name, e)
	r.jobFailed = add(r.jobFailed, name, e)
	r.jobRetrying = add(r.jobRetrying, name, e)
	r.jobCancelled = add(r.jobCancelled, name, e)
	r.jobReaped = add(r.jobReaped, name, e)
	r.queuesCleared = add(r.queuesCleared, name, e)
	r.shutdown = add(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies JobEnqueued hooks.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		r.check("OnJobEnqueued", e.name, e.hook.OnJobEnqueued(ctx, j))
	}
}

// EmitJobStarted notifies JobStarted hooks.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobFinished notifies JobFinished hooks.
func (r *Registry) EmitJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobFinished {
		r.check("OnJobFinished", e.name, e.hook.OnJobFinished(ctx, j, elapsed))
	}
}

// EmitJobFailed notifies JobFailed hooks.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, jobErr))
	}
}

// EmitJobRetrying notifies JobRetrying hooks.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, runAt time.Time) {
	for _, e := range r.jobRetrying {
		r.check("OnJobRetrying", e.name, e.hook.OnJobRetrying(ctx, j, attempt, runAt))
	}
}

// EmitJobCancelled notifies JobCancelled hooks.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		r.check("OnJobCancelled", e.name, e.hook.OnJobCancelled(ctx, j))
	}
}

// EmitJobReaped notifies JobReaped hooks.
func (r *Registry) EmitJobReaped(ctx context.Context, j *job.Job) {
	for _, e := range r.jobReaped {
		r.check("OnJobReaped", e.name, e.hook.OnJobReaped(ctx, j))
	}
}

// EmitQueuesCleared notifies QueuesCleared hooks.
func (r *Registry) EmitQueuesCleared(ctx context.Context, queues []string) {
	for _, e := range r.queuesCleared {
		r.check("OnQueuesCleared", e.name, e.hook.OnQueuesCleared(ctx, queues))
	}
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook error. Hook errors never propagate into the pipeline.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
