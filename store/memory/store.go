// Package memory provides an in-process implementation of store.Store.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// Compile-time checks. store.Store cannot be named here without an
// import cycle in tests, so each subsystem is verified.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a fully in-memory store. Every method holds one mutex, which
// makes each operation atomic with respect to every other.
type Store struct {
	mu sync.Mutex

	// jobs holds queued and running records by ID.
	jobs map[string]*job.Job
	// queues holds the FIFO of queued job IDs per queue.
	queues map[string][]string
	dlqs   map[string]*dlq.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*job.Job),
		queues: make(map[string][]string),
		dlqs:   make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob appends j to the tail of its queue.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return backlog.ErrJobAlreadyExists
	}
	cp := j.Clone()
	cp.Queue = queue.Normalize(cp.Queue)
	cp.State = job.StateQueued
	m.jobs[key] = cp
	m.queues[cp.Queue] = append(m.queues[cp.Queue], key)
	return nil
}

// ClaimJob removes the first claimable job from the first non-empty queue.
func (m *Store) ClaimJob(_ context.Context, queues []string, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, q := range queue.NormalizeAll(queues) {
		for i, key := range m.queues[q] {
			j := m.jobs[key]
			if j.RunAt.After(now) {
				continue
			}
			m.removeAt(q, i)

			j.State = job.StateRunning
			j.WorkerID = workerID
			started := now
			j.StartedAt = &started
			beat := now
			j.HeartbeatAt = &beat
			return j.Clone(), nil
		}
	}
	return nil, nil //nolint:nilnil // empty queues are not an error
}

// GetJob returns a queued or running job.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, backlog.ErrJobNotFound
	}
	return j.Clone(), nil
}

// CancelJob removes a queued job without running it.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok || j.State != job.StateQueued {
		return nil, backlog.ErrJobNotFound
	}
	m.unlink(j.Queue, key)
	delete(m.jobs, key)
	return j.Clone(), nil
}

// DeleteJob removes a job in any state.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return backlog.ErrJobNotFound
	}
	if j.State == job.StateQueued {
		m.unlink(j.Queue, key)
	}
	delete(m.jobs, key)
	return nil
}

// RequeueJob puts a claimed job back at the tail of its queue.
func (m *Store) RequeueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	cur, ok := m.jobs[key]
	if !ok || cur.State != job.StateRunning {
		return backlog.ErrJobNotFound
	}
	cur.State = job.StateQueued
	cur.RetryCount = j.RetryCount
	cur.LastError = j.LastError
	cur.RunAt = j.RunAt
	cur.WorkerID = id.Nil
	cur.StartedAt = nil
	cur.HeartbeatAt = nil
	m.queues[cur.Queue] = append(m.queues[cur.Queue], key)
	return nil
}

// ListJobs returns queued jobs ordered by queue name then FIFO.
func (m *Store) ListJobs(_ context.Context, queues []string) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.selectQueues(queues)
	slices.Sort(names)

	var out []*job.Job
	for _, q := range names {
		for _, key := range m.queues[q] {
			out = append(out, m.jobs[key].Clone())
		}
	}
	return out, nil
}

// ListQueues returns the names of non-empty queues, sorted.
func (m *Store) ListQueues(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.selectQueues(nil)
	slices.Sort(names)
	return names, nil
}

// ClearQueues empties the given queues, or every non-empty queue.
func (m *Store) ClearQueues(_ context.Context, queues []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.selectQueues(queues)
	for _, q := range names {
		for _, key := range m.queues[q] {
			delete(m.jobs, key)
		}
		delete(m.queues, q)
	}
	return names, nil
}

// CountJobs returns the number of queued jobs in q.
func (m *Store) CountJobs(_ context.Context, q string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[queue.Normalize(q)])), nil
}

// HeartbeatJob refreshes the heartbeat of a job running on workerID.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.State != job.StateRunning || j.WorkerID != workerID {
		return backlog.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State == job.StateRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j.Clone())
		}
	}
	sort.Slice(stale, func(a, b int) bool { return stale[a].HeartbeatAt.Before(*stale[b].HeartbeatAt) })
	return stale, nil
}

// selectQueues normalizes names, or returns every non-empty queue when
// names is empty. Callers hold mu.
func (m *Store) selectQueues(names []string) []string {
	if len(names) > 0 {
		return queue.NormalizeAll(names)
	}
	out := make([]string, 0, len(m.queues))
	for q, ids := range m.queues {
		if len(ids) > 0 {
			out = append(out, q)
		}
	}
	return out
}

func (m *Store) unlink(q, key string) {
	if i := slices.Index(m.queues[q], key); i >= 0 {
		m.removeAt(q, i)
	}
}

func (m *Store) removeAt(q string, i int) {
	ids := slices.Delete(m.queues[q], i, i+1)
	if len(ids) == 0 {
		delete(m.queues, q)
		return
	}
	m.queues[q] = ids
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ records a failed job.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns entries oldest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if len(opts.Queues) > 0 && !slices.Contains(opts.Queues, e.Queue) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].FailedAt.Equal(out[b].FailedAt) {
			return out[a].FailedAt.Before(out[b].FailedAt)
		}
		return out[a].ID.String() < out[b].ID.String()
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.FailureID) (*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, backlog.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkRequeued stamps RequeuedAt on an entry.
func (m *Store) MarkRequeued(_ context.Context, entryID id.FailureID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return backlog.ErrDLQNotFound
	}
	e.RequeuedAt = &at
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the number of entries.
func (m *Store) CountDLQ(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.dlqs)), nil
}
