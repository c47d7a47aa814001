package ext

import (
	"context"
	"time"

	"github.com/xraph/backlog/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is accepted into its queue.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker has claimed a job and is about to run it.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobFinished is called after a job ran successfully.
type JobFinished interface {
	OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails with no retries left.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a failed job goes back to its queue.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, runAt time.Time) error
}

// JobCancelled is called after a queued job was removed without running.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobReaped is called when a running job with a stale heartbeat is
// returned to its queue.
type JobReaped interface {
	OnJobReaped(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Queue and process hooks
// ──────────────────────────────────────────────────

// QueuesCleared is called after queues were emptied.
type QueuesCleared interface {
	OnQueuesCleared(ctx context.Context, queues []string) error
}

// Shutdown is called when a worker pool stops.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
