package dlq

import (
	"time"

	"github.com/xraph/backlog/id"
)

// Entry is the record of a job that failed with no retries left.
type Entry struct {
	ID         id.FailureID `json:"id"`
	JobID      id.JobID     `json:"job_id"`
	JobName    string       `json:"job_name"`
	Queue      string       `json:"queue"`
	Title      string       `json:"title,omitempty"`
	Payload    []byte       `json:"payload,omitempty"`
	Codec      string       `json:"codec"`
	Error      string       `json:"error"`
	RetryCount int          `json:"retry_count"`
	MaxRetries int          `json:"max_retries"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	FailedAt   time.Time    `json:"failed_at"`
	RequeuedAt *time.Time   `json:"requeued_at,omitempty"`
}

// Requeued reports whether the entry has been put back on a queue.
func (e *Entry) Requeued() bool { return e.RequeuedAt != nil }
