package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// Pool runs a set of Workers over the same ordered queues, plus heartbeat
// and stale-job reaper loops.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	queues       []string
	pollInterval time.Duration
	logger       *slog.Logger

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	// Queue manager (optional).
	queueManager QueueManager

	workers []*Worker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of workers.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool claims from, in priority order.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the threshold after which running jobs
// without a heartbeat are considered stale and requeued. A zero value
// disables stale job reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  1,
		queues:       []string{queue.DefaultName},
		pollInterval: time.Second,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}

	wopts := []Option{WithWorkerPollInterval(p.pollInterval)}
	if p.queueManager != nil {
		wopts = append(wopts, WithWorkerQueueManager(p.queueManager))
	}
	for range p.concurrency {
		p.workers = append(p.workers, NewWorker(store, executor, extensions, logger, wopts...))
	}
	return p
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker { return p.workers }

// Queues returns the queues the pool claims from.
func (p *Pool) Queues() []string { return p.queues }

// Run runs every worker until they return. In burst mode that happens
// once the queues are drained; otherwise when ctx is cancelled.
// Heartbeat and reaper loops run only in continuous mode.
func (p *Pool) Run(ctx context.Context, burst bool) error {
	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
		slog.Bool("burst", burst),
	)

	loopCtx, stopLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup
	if !burst {
		if p.heartbeatInterval > 0 {
			loops.Add(1)
			go p.every(loopCtx, &loops, p.heartbeatInterval, p.sendHeartbeats)
		}
		if p.staleJobThreshold > 0 {
			loops.Add(1)
			go p.every(loopCtx, &loops, p.staleJobThreshold, p.reapStaleJobs)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(gctx, p.queues, burst) })
	}
	err := g.Wait()

	stopLoops()
	loops.Wait()

	p.extensions.EmitShutdown(context.WithoutCancel(ctx))
	p.logger.Info("worker pool stopped")
	return err
}

// Start runs the pool in the background in continuous mode. It returns
// immediately; a second call is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.err = p.Run(runCtx, false)
	}()
	return nil
}

// Stop signals the workers to stop after their current job and waits.
// If ctx expires first, running jobs are aborted and ctx.Err is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()

	select {
	case <-done:
		return p.err
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, aborting active jobs")
		for _, w := range p.workers {
			w.Abort()
		}
		<-done
		return errors.Join(ctx.Err(), p.err)
	}
}

func (p *Pool) every(ctx context.Context, wg *sync.WaitGroup, d time.Duration, fn func(context.Context)) {
	defer wg.Done()

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// sendHeartbeats refreshes the heartbeat of every job being executed.
func (p *Pool) sendHeartbeats(ctx context.Context) {
	for _, w := range p.workers {
		j := w.Current()
		if j == nil {
			continue
		}
		if err := p.store.HeartbeatJob(ctx, j.ID, w.ID()); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reapStaleJobs returns running jobs whose worker stopped heartbeating to
// the tail of their queue.
func (p *Pool) reapStaleJobs(ctx context.Context) {
	stale, err := p.store.ReapStaleJobs(ctx, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		j.RunAt = time.Now().UTC()
		if err := p.store.RequeueJob(ctx, j); err != nil {
			p.logger.Error("reap: failed to requeue stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		p.extensions.EmitJobReaped(ctx, j)
		p.logger.Info("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("worker_id", j.WorkerID.String()),
		)
	}
}
