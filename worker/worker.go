package worker

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// State is the observable state of a Worker.
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// QueueManager gates claims with per-queue rate limits and concurrency.
// A Worker Reserves slots before claiming, Settles them with the queue of
// the job it claimed, and Releases that queue once the job is done.
type QueueManager interface {
	Reserve(queues []string) []string
	Settle(reserved []string, claimed string)
	Release(queue string)
}

var _ QueueManager = (*queue.Manager)(nil)

// Option configures a Worker.
type Option func(*Worker)

// WithWorkerPollInterval sets how long a continuous worker sleeps when its
// queues are empty.
func WithWorkerPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithWorkerQueueManager gates the worker's claims through m.
func WithWorkerQueueManager(m QueueManager) Option {
	return func(w *Worker) { w.manager = m }
}

// Worker claims jobs from an ordered list of queues and executes them one
// at a time. Earlier queues always win.
type Worker struct {
	id           id.WorkerID
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	manager      QueueManager
	pollInterval time.Duration
	logger       *slog.Logger

	state atomic.Value // State

	mu      sync.Mutex
	current *job.Job
	abort   context.CancelFunc
}

// NewWorker creates an idle Worker with a fresh worker ID.
func NewWorker(store job.Store, executor *Executor, extensions *ext.Registry, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		id:           id.NewWorkerID(),
		store:        store,
		executor:     executor,
		extensions:   extensions,
		pollInterval: time.Second,
		logger:       logger,
	}
	w.state.Store(StateIdle)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's identifier, recorded on every job it claims.
func (w *Worker) ID() id.WorkerID { return w.id }

// State returns the worker's current state.
func (w *Worker) State() State { return w.state.Load().(State) } //nolint:errcheck // always a State

// Current returns a copy of the job being executed, or nil.
func (w *Worker) Current() *job.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	return w.current.Clone()
}

// Abort cancels the context of the job being executed, if any. Run keeps
// going; it is meant for shutdown deadlines.
func (w *Worker) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.abort != nil {
		w.abort()
	}
}

// Run claims and executes jobs from queues until stopped.
//
// In burst mode Run returns nil as soon as every queue is observed empty.
// Jobs waiting for a retry keep a queue non-empty, so a burst worker waits
// for them rather than leaving them behind.
// Otherwise it sleeps for the poll interval when idle and returns nil
// when ctx is cancelled. Cancellation is only observed between jobs; a
// running job keeps a context detached from ctx. Job failures never make
// Run return an error; store errors in burst mode do.
func (w *Worker) Run(ctx context.Context, queues []string, burst bool) error {
	defer w.state.Store(StateStopped)

	queues = queue.NormalizeAll(queues)
	if len(queues) == 0 {
		queues = []string{queue.DefaultName}
	}

	w.logger.Debug("worker started",
		slog.String("worker_id", w.id.String()),
		slog.Any("queues", queues),
		slog.Bool("burst", burst),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		w.state.Store(StateFetching)
		j, limited, err := w.claim(ctx, queues)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("claim error",
				slog.String("worker_id", w.id.String()),
				slog.String("error", err.Error()),
			)
			if burst {
				return err
			}
			w.sleep(ctx)
			continue
		}

		if j == nil {
			w.state.Store(StateIdle)
			if burst && !limited {
				wait, pending, err := w.pending(ctx, queues)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if !pending {
					return nil
				}
				w.sleepFor(ctx, wait)
				continue
			}
			w.sleep(ctx)
			continue
		}

		w.process(ctx, j)
	}
}

// claim reserves queue slots through the manager, if any, and claims from
// the queues that had headroom. limited reports that at least one queue was skipped.
func (w *Worker) claim(ctx context.Context, queues []string) (*job.Job, bool, error) {
	if w.manager == nil {
		j, err := w.store.ClaimJob(ctx, queues, w.id)
		return j, false, err
	}

	ready := w.manager.Reserve(queues)
	limited := !slices.Equal(ready, queues)
	if len(ready) == 0 {
		return nil, limited, nil
	}

	j, err := w.store.ClaimJob(ctx, ready, w.id)
	claimed := ""
	if j != nil {
		claimed = queue.Normalize(j.Queue)
	}
	w.manager.Settle(ready, claimed)
	return j, limited, err
}

// process executes one claimed job on a context detached from ctx.
func (w *Worker) process(ctx context.Context, j *job.Job) {
	if w.manager != nil {
		defer w.manager.Release(j.Queue)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	w.mu.Lock()
	w.current, w.abort = j, cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.current, w.abort = nil, nil
		w.mu.Unlock()
	}()

	w.state.Store(StateRunning)
	w.extensions.EmitJobStarted(runCtx, j)

	res := w.executor.Execute(runCtx, j)
	if res.OK() {
		w.state.Store(StateSucceeded)
	} else {
		w.state.Store(StateFailed)
	}
}

// pending reports whether any queue still holds jobs that are not yet
// claimable, and how long until the earliest one is due, capped at the
// poll interval.
func (w *Worker) pending(ctx context.Context, queues []string) (time.Duration, bool, error) {
	jobs, err := w.store.ListJobs(ctx, queues)
	if err != nil || len(jobs) == 0 {
		return 0, false, err
	}

	wait := w.pollInterval
	now := time.Now()
	for _, j := range jobs {
		if d := j.RunAt.Sub(now); d < wait {
			wait = max(d, 0)
		}
	}
	return wait, true, nil
}

func (w *Worker) sleep(ctx context.Context) { w.sleepFor(ctx, w.pollInterval) }

func (w *Worker) sleepFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
