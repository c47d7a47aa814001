package dlq

import (
	"context"
	"time"

	"github.com/xraph/backlog/id"
)

// ListOpts controls filtering for failure listings.
type ListOpts struct {
	// Queues filters by queue name. Empty means all queues.
	Queues []string
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for failure records.
type Store interface {
	// PushDLQ records a failed job.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries ordered by FailedAt, oldest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.FailureID) (*Entry, error)

	// MarkRequeued stamps RequeuedAt on an entry.
	MarkRequeued(ctx context.Context, entryID id.FailureID, at time.Time) error

	// PurgeDLQ removes entries that failed before the given time and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
