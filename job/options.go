package job

import "time"

// Options configures per-job behavior such as queue, title and retries.
type Options struct {
	// Queue is the queue name this job should be enqueued to.
	// Empty means the default queue.
	Queue string

	// Title is an optional human-readable label.
	Title string

	// MaxRetries is the number of retry attempts before the job is
	// recorded as a failure. Zero disables retries.
	MaxRetries int

	// Timeout is the maximum duration a single execution may run.
	Timeout time.Duration

	// Codec names the payload encoding. Empty means JSON.
	Codec string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Codec: CodecJSON,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithTitle sets the job title shown by listings.
func WithTitle(title string) Option {
	return func(o *Options) {
		o.Title = title
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithCodec selects the payload encoding by name (see [CodecJSON] and
// [CodecMsgpack]).
func WithCodec(name string) Option {
	return func(o *Options) {
		o.Codec = name
	}
}
