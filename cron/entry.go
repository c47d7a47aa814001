package cron

import "time"

// Entry is a recurring job schedule.
type Entry struct {
	// Name identifies the entry. Unique per scheduler.
	Name string `json:"name"`

	// Schedule is a cron expression, e.g. "*/5 * * * *" or "@every 30s".
	Schedule string `json:"schedule"`

	// JobName is the registered job enqueued on each run.
	JobName string `json:"job_name"`

	// Queue is the target queue. Empty means the default queue.
	Queue string `json:"queue,omitempty"`

	// Title labels the enqueued jobs.
	Title string `json:"title,omitempty"`

	// Payload is passed to every enqueued job as is.
	Payload []byte `json:"payload,omitempty"`

	// Codec names the payload encoding. Empty keeps the job's default.
	Codec string `json:"codec,omitempty"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
}
