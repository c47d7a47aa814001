package job

import (
	"time"

	"github.com/xraph/backlog/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is waiting in its queue to be claimed.
	StateQueued State = "queued"
	// StateRunning means a worker has claimed the job and is executing it.
	StateRunning State = "running"
	// StateFinished means the job completed successfully.
	StateFinished State = "finished"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
)

// Job represents a unit of deferred work.
//
// Name is the function reference resolved through a [Registry] at
// execution time; Payload holds the encoded arguments in the format named
// by Codec.
type Job struct {
	ID          id.JobID      `json:"id"`
	Queue       string        `json:"queue"`
	Name        string        `json:"name"`
	Payload     []byte        `json:"payload,omitempty"`
	Codec       string        `json:"codec"`
	Title       string        `json:"title,omitempty"`
	State       State         `json:"state"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	RunAt       time.Time     `json:"run_at"`
	MaxRetries  int           `json:"max_retries"`
	RetryCount  int           `json:"retry_count"`
	LastError   string        `json:"last_error,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitzero"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
}

// HasTitle reports whether the job carries a human-readable label.
func (j *Job) HasTitle() bool { return j.Title != "" }

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		cp.HeartbeatAt = &t
	}
	return &cp
}
