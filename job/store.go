package job

import (
	"context"
	"time"

	"github.com/xraph/backlog/id"
)

// Store defines the persistence contract for jobs.
//
// Queue names passed to and returned from a Store are display names;
// any storage namespace is applied and stripped inside the implementation.
// Every method is atomic with respect to every other.
type Store interface {
	// EnqueueJob appends a new job to the tail of its queue.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob atomically removes the first claimable job from the first
	// non-empty queue in queues (in the order given), marks it running
	// for workerID and returns it. It returns (nil, nil) when every queue
	// is empty.
	ClaimJob(ctx context.Context, queues []string, workerID id.WorkerID) (*Job, error)

	// GetJob retrieves a queued or running job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// CancelJob removes a queued job from its queue without running it
	// and returns it. A job that is running or absent yields ErrJobNotFound.
	CancelJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// DeleteJob removes a job record in any state.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// RequeueJob puts a claimed job back at the tail of its queue in
	// queued state, persisting RetryCount, LastError and RunAt.
	RequeueJob(ctx context.Context, j *Job) error

	// ListJobs returns queued jobs in the given queues (all queues when
	// empty), ordered by queue name then FIFO.
	ListJobs(ctx context.Context, queues []string) ([]*Job, error)

	// ListQueues returns the names of queues holding queued jobs, sorted.
	ListQueues(ctx context.Context) ([]string, error)

	// ClearQueues removes every queued job from the given queues (all
	// queues when empty) and returns the names of the queues cleared.
	ClearQueues(ctx context.Context, queues []string) ([]string, error)

	// CountJobs returns the number of queued jobs in queue.
	CountJobs(ctx context.Context, queue string) (int64, error)

	// HeartbeatJob updates the heartbeat timestamp for a running job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older than
	// the given threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)
}
