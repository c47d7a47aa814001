package backlog

import "time"

// DefaultQueue is the queue used whenever no queue name is given.
const DefaultQueue = "default"

// Config holds runtime configuration shared by the engine and its workers.
type Config struct {
	// Concurrency is the number of workers a pool runs.
	Concurrency int

	// Queues is the ordered list of queues workers poll. Earlier queues
	// are always drained first.
	Queues []string

	// PollInterval is how long a continuous worker sleeps when all of its
	// queues are empty.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for active jobs when a
	// pool is stopped.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long a running job may go without a
	// heartbeat before it is returned to its queue.
	StaleJobThreshold time.Duration

	// DefaultTimeout bounds a single job execution. Zero means unlimited.
	DefaultTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       1,
		Queues:            []string{DefaultQueue},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 60 * time.Second,
	}
}
