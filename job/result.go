package job

import "time"

// Result is the outcome of one execution of a job.
// A nil Err means the job succeeded.
type Result struct {
	Err     error
	Elapsed time.Duration
}

// OK reports whether the execution succeeded.
func (r Result) OK() bool { return r.Err == nil }
