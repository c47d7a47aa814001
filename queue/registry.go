package queue

import (
	"context"
	"slices"

	"github.com/xraph/backlog/job"
)

// Source is the storage view a Registry needs. Stores satisfy it.
type Source interface {
	ListQueues(ctx context.Context) ([]string, error)
	CountJobs(ctx context.Context, queue string) (int64, error)
	ClearQueues(ctx context.Context, queues []string) ([]string, error)
	ListJobs(ctx context.Context, queues []string) ([]*job.Job, error)
}

// Registry maps queue names to Queue handles over a Source. Queues are
// not tracked as objects: a queue exists in storage while it holds jobs,
// and the default queue always resolves.
type Registry struct {
	src Source
}

// NewRegistry creates a Registry backed by src.
func NewRegistry(src Source) *Registry {
	return &Registry{src: src}
}

// Resolve returns the handle for name, creating nothing. An empty name
// resolves to the default queue.
func (r *Registry) Resolve(name string) Queue {
	return Queue{name: Normalize(name), src: r.src}
}

// Get returns the handle for name and whether it currently holds work.
func (r *Registry) Get(ctx context.Context, name string) (Queue, bool, error) {
	q := r.Resolve(name)
	n, err := q.Len(ctx)
	if err != nil {
		return Queue{}, false, err
	}
	return q, n > 0, nil
}

// ListNonEmpty returns a handle for every queue holding queued jobs,
// sorted by name.
func (r *Registry) ListNonEmpty(ctx context.Context) ([]Queue, error) {
	names, err := r.src.ListQueues(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	out := make([]Queue, 0, len(names))
	for _, n := range names {
		out = append(out, Queue{name: n, src: r.src})
	}
	return out, nil
}

// Queue is a handle to a named FIFO of job records held in storage.
type Queue struct {
	name string
	src  Source
}

// Name returns the display name of the queue.
func (q Queue) Name() string { return q.name }

// Len returns the number of queued jobs.
func (q Queue) Len(ctx context.Context) (int64, error) {
	return q.src.CountJobs(ctx, q.name)
}

// Jobs returns the queued jobs in FIFO order.
func (q Queue) Jobs(ctx context.Context) ([]*job.Job, error) {
	return q.src.ListJobs(ctx, []string{q.name})
}

// Clear discards every queued job without running it.
func (q Queue) Clear(ctx context.Context) error {
	_, err := q.src.ClearQueues(ctx, []string{q.name})
	return err
}
