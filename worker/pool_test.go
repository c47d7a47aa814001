package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
	"github.com/xraph/backlog/store/memory"
	"github.com/xraph/backlog/worker"
)

type harness struct {
	store      *memory.Store
	registry   *job.Registry
	extensions *ext.Registry
	executor   *worker.Executor
	logger     *slog.Logger
}

func newHarness(t *testing.T, exts ...ext.Extension) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)
	for _, e := range exts {
		extensions.Register(e)
	}
	executor := worker.NewExecutor(
		reg, extensions, s, dlq.NewService(s, s), backoff.None, logger,
		middleware.Logging(logger),
	)
	return &harness{store: s, registry: reg, extensions: extensions, executor: executor, logger: logger}
}

func (h *harness) pool(opts ...worker.PoolOption) *worker.Pool {
	return worker.NewPool(h.store, h.executor, h.extensions, h.logger, opts...)
}

func (h *harness) worker() *worker.Worker {
	return worker.NewWorker(h.store, h.executor, h.extensions, h.logger,
		worker.WithWorkerPollInterval(10*time.Millisecond))
}

func (h *harness) enqueue(t *testing.T, name, q string, args any, maxRetries int) *job.Job {
	t.Helper()
	payload, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	now := time.Now().UTC()
	j := &job.Job{
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      q,
		Payload:    payload,
		Codec:      job.CodecJSON,
		State:      job.StateQueued,
		EnqueuedAt: now.Truncate(time.Second),
		RunAt:      now,
		MaxRetries: maxRetries,
	}
	if err := h.store.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	return j
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPool_StartStop(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(worker.WithPoolConcurrency(2), worker.WithPollInterval(20*time.Millisecond))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
	for _, w := range pool.Workers() {
		if w.State() != worker.StateStopped {
			t.Errorf("worker state = %q, want %q", w.State(), worker.StateStopped)
		}
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(worker.WithPollInterval(10 * time.Millisecond))

	var processed atomic.Bool
	job.RegisterDefinition(h.registry, job.NewDefinition("greet", func(_ context.Context, p struct{ Name string }) error {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return nil
	}))

	j := h.enqueue(t, "greet", "default", struct{ Name string }{"Alice"}, 0)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, processed.Load)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	// Finished records leave the store.
	if _, err := h.store.GetJob(context.Background(), j.ID); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("GetJob after success: err = %v, want ErrJobNotFound", err)
	}
}

func TestPool_BurstTwoWorkersRunJobOnce(t *testing.T) {
	h := newHarness(t)

	var runs atomic.Int32
	h.registry.Register("once", func(context.Context, *job.Job) error {
		runs.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	h.enqueue(t, "once", "default", struct{}{}, 0)

	pool := h.pool(worker.WithPoolConcurrency(2))
	if err := pool.Run(context.Background(), true); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestPool_BurstWaitsForDelayedRetries(t *testing.T) {
	tracker := &trackingExt{}
	h := newHarness(t, tracker)
	h.executor = worker.NewExecutor(
		h.registry, h.extensions, h.store, dlq.NewService(h.store, h.store),
		backoff.Constant{Interval: 80 * time.Millisecond}, h.logger,
	)

	var runs atomic.Int32
	h.registry.Register("always_fails", func(context.Context, *job.Job) error {
		runs.Add(1)
		return errors.New("nope")
	})
	failing := h.enqueue(t, "always_fails", "default", struct{}{}, 2)

	pool := h.pool(worker.WithPoolConcurrency(2), worker.WithPollInterval(time.Second))
	start := time.Now()
	if err := pool.Run(context.Background(), true); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := runs.Load(); got != 3 {
		t.Errorf("runs = %d, want 3 (one attempt plus two retries)", got)
	}
	if elapsed := time.Since(start); elapsed < 160*time.Millisecond {
		t.Errorf("burst returned after %v, before both retry delays elapsed", elapsed)
	}
	if got := tracker.retrying.Load(); got != 2 {
		t.Errorf("retries emitted = %d, want 2", got)
	}

	ctx := context.Background()
	if n, _ := h.store.CountJobs(ctx, "default"); n != 0 {
		t.Errorf("queued after burst = %d, want 0", n)
	}
	entries, err := h.store.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != failing.ID {
		t.Errorf("dlq = %+v, want the exhausted job", entries)
	}
}

func TestPool_BurstDrainsManyJobs(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	seen := map[string]int{}
	h.registry.Register("count", func(_ context.Context, j *job.Job) error {
		mu.Lock()
		seen[j.ID.String()]++
		mu.Unlock()
		return nil
	})
	for range 50 {
		h.enqueue(t, "count", "default", struct{}{}, 0)
	}

	pool := h.pool(worker.WithPoolConcurrency(4))
	if err := pool.Run(context.Background(), true); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(seen) != 50 {
		t.Fatalf("distinct jobs run = %d, want 50", len(seen))
	}
	for jID, n := range seen {
		if n != 1 {
			t.Errorf("job %s ran %d times", jID, n)
		}
	}
}

func TestPool_ReapsStaleJob(t *testing.T) {
	h := newHarness(t)

	var processed atomic.Bool
	h.registry.Register("orphan", func(context.Context, *job.Job) error {
		processed.Store(true)
		return nil
	})
	j := h.enqueue(t, "orphan", "default", struct{}{}, 0)

	// A worker that claimed the job and then died.
	ctx := context.Background()
	if _, err := h.store.ClaimJob(ctx, []string{"default"}, id.NewWorkerID()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	tracker := &trackingExt{}
	h.extensions.Register(tracker)

	pool := h.pool(
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithHeartbeatInterval(5*time.Millisecond),
		worker.WithStaleJobThreshold(20*time.Millisecond),
	)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, processed.Load)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if !tracker.reaped.Load() {
		t.Error("expected OnJobReaped to fire")
	}
	if _, err := h.store.GetJob(ctx, j.ID); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("GetJob after reaped run: err = %v, want ErrJobNotFound", err)
	}
}

func TestPool_HeartbeatKeepsLongJob(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	var started atomic.Bool
	var runs atomic.Int32
	h.registry.Register("long", func(context.Context, *job.Job) error {
		runs.Add(1)
		started.Store(true)
		<-release
		return nil
	})
	h.enqueue(t, "long", "default", struct{}{}, 0)

	pool := h.pool(
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(5*time.Millisecond),
		worker.WithHeartbeatInterval(5*time.Millisecond),
		worker.WithStaleJobThreshold(50*time.Millisecond),
	)
	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, started.Load)

	// Several stale thresholds pass while the job runs.
	time.Sleep(200 * time.Millisecond)
	close(release)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestPool_StopDeadlineAbortsJob(t *testing.T) {
	h := newHarness(t)

	var started atomic.Bool
	h.registry.Register("stuck", func(ctx context.Context, _ *job.Job) error {
		started.Store(true)
		<-ctx.Done()
		return ctx.Err()
	})
	h.enqueue(t, "stuck", "default", struct{}{}, 0)

	pool := h.pool(worker.WithPollInterval(5 * time.Millisecond))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, started.Load)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stop: err = %v, want DeadlineExceeded", err)
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	tracker := &trackingExt{}
	h := newHarness(t, tracker)

	h.registry.Register("tracked", func(context.Context, *job.Job) error { return nil })
	h.enqueue(t, "tracked", "default", struct{}{}, 0)

	if err := h.pool().Run(context.Background(), true); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if !tracker.finished.Load() {
		t.Error("expected OnJobFinished to fire")
	}
	if !tracker.shutdown.Load() {
		t.Error("expected OnShutdown to fire")
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingExt records which hooks fired.
type trackingExt struct {
	started  atomic.Bool
	finished atomic.Bool
	failed   atomic.Bool
	retrying atomic.Int32
	reaped   atomic.Bool
	shutdown atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobStarted(context.Context, *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnJobFinished(context.Context, *job.Job, time.Duration) error {
	e.finished.Store(true)
	return nil
}

func (e *trackingExt) OnJobFailed(context.Context, *job.Job, error) error {
	e.failed.Store(true)
	return nil
}

func (e *trackingExt) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	e.retrying.Add(1)
	return nil
}

func (e *trackingExt) OnJobReaped(context.Context, *job.Job) error {
	e.reaped.Store(true)
	return nil
}

func (e *trackingExt) OnShutdown(context.Context) error {
	e.shutdown.Store(true)
	return nil
}
