package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/backlog/job"
)

// ErrDuplicateEntry is returned by Add for a name already scheduled.
var ErrDuplicateEntry = errors.New("cron: duplicate entry name")

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// (*engine.Engine).EnqueueRaw satisfies it.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type scheduled struct {
	entry    Entry
	schedule cronlib.Schedule
}

// Scheduler fires entries on a tick loop.
type Scheduler struct {
	enqueue EnqueueFunc
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*scheduled

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(enqueue EnqueueFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		logger:       logger,
		now:          time.Now,
		tickInterval: time.Second,
		entries:      make(map[string]*scheduled),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add schedules e. Its first run is the next match after now.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.JobName == "" {
		return fmt.Errorf("cron: entry needs a name and a job name")
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("cron: entry %q: invalid schedule %q: %w", e.Name, e.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateEntry, e.Name)
	}
	e.NextRunAt = sched.Next(s.now().UTC())
	s.entries[e.Name] = &scheduled{entry: e, schedule: sched}
	return nil
}

// Remove unschedules the named entry and reports whether it existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	delete(s.entries, name)
	return ok
}

// Entries returns copies of every entry ordered by next run, then name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, sc := range s.entries {
		out = append(out, sc.entry)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].NextRunAt.Before(out[j].NextRunAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Start launches the tick loop. A second call is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	s.logger.Info("cron scheduler started",
		slog.Int("entries", len(s.entries)),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop ends the tick loop and waits for an in-flight tick, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("cron scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick enqueues every entry that is due and returns the jobs enqueued.
// An entry that fails to enqueue keeps its run time and is retried on
// the next tick. Missed runs are not caught up: one job per due entry.
func (s *Scheduler) Tick(ctx context.Context) []*job.Job {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*scheduled
	for _, sc := range s.entries {
		if !sc.entry.NextRunAt.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].entry.Name < due[j].entry.Name })

	var fired []*job.Job
	for _, sc := range due {
		if j := s.fire(ctx, sc, now); j != nil {
			fired = append(fired, j)
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, sc *scheduled, now time.Time) *job.Job {
	e := sc.entry

	var opts []job.Option
	if e.Queue != "" {
		opts = append(opts, job.WithQueue(e.Queue))
	}
	if e.Title != "" {
		opts = append(opts, job.WithTitle(e.Title))
	}
	if e.Codec != "" {
		opts = append(opts, job.WithCodec(e.Codec))
	}

	j, err := s.enqueue(ctx, e.JobName, e.Payload, opts...)
	if err != nil {
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", e.Name),
			slog.String("job_name", e.JobName),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.mu.Lock()
	if cur, ok := s.entries[e.Name]; ok && cur == sc {
		ran := now
		sc.entry.LastRunAt = &ran
		sc.entry.NextRunAt = sc.schedule.Next(now)
	}
	s.mu.Unlock()

	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("job_name", e.JobName),
		slog.String("job_id", j.ID.String()),
	)
	return j
}
