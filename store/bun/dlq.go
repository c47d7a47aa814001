package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
)

// PushDLQ records a failed job.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.NewInsert().Model(toDLQModel(entry)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("backlog/bun: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqModel
	q := s.db.NewSelect().Model(&models)

	if len(opts.Queues) > 0 {
		q = q.Where("queue IN (?)", bun.In(opts.Queues))
	}

	q = q.Order("failed_at ASC", "id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("backlog/bun: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, err := fromDLQModel(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.FailureID) (*dlq.Entry, error) {
	m := new(dlqModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrDLQNotFound
		}
		return nil, fmt.Errorf("backlog/bun: get dlq: %w", err)
	}
	return fromDLQModel(m)
}

// MarkRequeued stamps requeued_at on an entry.
func (s *Store) MarkRequeued(ctx context.Context, entryID id.FailureID, at time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("backlog_dlq").
		Set("requeued_at = ?", at).
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("backlog/bun: mark requeued: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return backlog.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("backlog_dlq").
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("backlog/bun: purge dlq: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return n, nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().TableExpr("backlog_dlq").Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("backlog/bun: count dlq: %w", err)
	}
	return int64(count), nil
}
