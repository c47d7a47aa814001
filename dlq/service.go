package dlq

import (
	"context"
	"time"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// Service provides high-level failure operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a failure service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push records j, which failed with jobErr and has no retries left.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	return s.store.PushDLQ(ctx, &Entry{
		ID:         id.NewFailureID(),
		JobID:      j.ID,
		JobName:    j.Name,
		Queue:      j.Queue,
		Title:      j.Title,
		Payload:    j.Payload,
		Codec:      j.Codec,
		Error:      jobErr.Error(),
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		EnqueuedAt: j.EnqueuedAt,
		FailedAt:   time.Now().UTC(),
	})
}

// List returns failure records, oldest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Requeue enqueues the failed job again as a fresh record with a new ID
// and a full retry budget, then stamps the entry as requeued. The new
// job is returned even when stamping fails.
func (s *Service) Requeue(ctx context.Context, entryID id.FailureID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:         id.NewJobID(),
		Queue:      entry.Queue,
		Name:       entry.JobName,
		Payload:    entry.Payload,
		Codec:      entry.Codec,
		Title:      entry.Title,
		State:      job.StateQueued,
		EnqueuedAt: now.Truncate(time.Second),
		RunAt:      now,
		MaxRetries: entry.MaxRetries,
	}
	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	if err := s.store.MarkRequeued(ctx, entryID, now); err != nil {
		return j, err
	}
	return j, nil
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// Store returns the underlying failure store.
func (s *Service) Store() Store {
	return s.store
}
