package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
)

const dlqColumns = `
	id, job_id, job_name, queue, title, payload, codec, error,
	retry_count, max_retries, enqueued_at, failed_at, requeued_at`

// PushDLQ records a failed job.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backlog_dlq (`+dlqColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.JobID.String(), entry.JobName,
		entry.Queue, entry.Title, entry.Payload, entry.Codec, entry.Error,
		entry.RetryCount, entry.MaxRetries,
		entry.EnqueuedAt, entry.FailedAt, entry.RequeuedAt,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT` + dlqColumns + ` FROM backlog_dlq WHERE 1=1`
	args := []any{}
	argIdx := 1

	if len(opts.Queues) > 0 {
		query += fmt.Sprintf(" AND queue = ANY($%d)", argIdx)
		args = append(args, opts.Queues)
		argIdx++
	}

	query += " ORDER BY failed_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("backlog/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backlog/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.FailureID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+dlqColumns+` FROM backlog_dlq WHERE id = $1`,
		entryID.String(),
	)
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrDLQNotFound
		}
		return nil, fmt.Errorf("backlog/postgres: get dlq: %w", err)
	}
	return e, nil
}

// MarkRequeued stamps requeued_at on an entry.
func (s *Store) MarkRequeued(ctx context.Context, entryID id.FailureID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE backlog_dlq SET requeued_at = $2 WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: mark requeued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return backlog.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backlog_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("backlog/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM backlog_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("backlog/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		idStr    string
		jobIDStr string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.JobName, &e.Queue, &e.Title, &e.Payload, &e.Codec, &e.Error,
		&e.RetryCount, &e.MaxRetries, &e.EnqueuedAt, &e.FailedAt, &e.RequeuedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseFailureID(idStr)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: parse dlq id %q: %w", idStr, err)
	}
	e.ID = parsedID

	parsedJobID, err := id.ParseJobID(jobIDStr)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: parse dlq job id %q: %w", jobIDStr, err)
	}
	e.JobID = parsedJobID

	return &e, nil
}
