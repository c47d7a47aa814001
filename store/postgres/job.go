package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

const jobColumns = `
	id, queue, name, payload, codec, title, state,
	enqueued_at, run_at, max_retries, retry_count, last_error,
	timeout, worker_id, started_at, heartbeat_at`

// EnqueueJob persists a new job at the tail of its queue.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backlog_jobs (
			id, queue, name, payload, codec, title, state,
			enqueued_at, run_at, max_retries, retry_count, last_error, timeout
		) VALUES ($1, $2, $3, $4, $5, $6, 'queued', $7, $8, $9, $10, $11, $12)`,
		j.ID.String(), s.queues.Apply(j.Queue), j.Name, j.Payload, j.Codec, j.Title,
		j.EnqueuedAt, j.RunAt, j.MaxRetries, j.RetryCount, j.LastError,
		j.Timeout.Nanoseconds(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return backlog.ErrJobAlreadyExists
		}
		return fmt.Errorf("backlog/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob marks the first due job of the first non-empty queue as running.
// Uses FOR UPDATE SKIP LOCKED so concurrent claims never collide.
func (s *Store) ClaimJob(ctx context.Context, queues []string, workerID id.WorkerID) (*job.Job, error) {
	names := s.stored(queue.NormalizeAll(queues))
	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx, `
		UPDATE backlog_jobs
		SET state = 'running', worker_id = $2, started_at = $3, heartbeat_at = $3
		WHERE id = (
			SELECT id FROM backlog_jobs
			WHERE state = 'queued'
			  AND queue = ANY($1)
			  AND run_at <= $3
			ORDER BY array_position($1::text[], queue), seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING`+jobColumns,
		names, workerID.String(), now,
	)

	j, err := s.scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // empty queues are not an error
		}
		return nil, fmt.Errorf("backlog/postgres: claim job: %w", err)
	}
	return j, nil
}

// GetJob retrieves a queued or running job.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM backlog_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := s.scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, fmt.Errorf("backlog/postgres: get job: %w", err)
	}
	return j, nil
}

// CancelJob deletes a queued job and returns it.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`DELETE FROM backlog_jobs WHERE id = $1 AND state = 'queued' RETURNING`+jobColumns,
		jobID.String(),
	)

	j, err := s.scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, fmt.Errorf("backlog/postgres: cancel job: %w", err)
	}
	return j, nil
}

// DeleteJob removes a job in any state.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backlog_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("backlog/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// RequeueJob moves a running job to the tail of its queue.
func (s *Store) RequeueJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backlog_jobs SET
			state = 'queued',
			seq = nextval(pg_get_serial_sequence('backlog_jobs', 'seq')),
			retry_count = $2, last_error = $3, run_at = $4,
			worker_id = '', started_at = NULL, heartbeat_at = NULL
		WHERE id = $1 AND state = 'running'`,
		j.ID.String(), j.RetryCount, j.LastError, j.RunAt,
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// ListJobs returns queued jobs ordered by queue name then FIFO.
func (s *Store) ListJobs(ctx context.Context, queues []string) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM backlog_jobs WHERE state = 'queued'`
	var args []any
	if len(queues) > 0 {
		query += ` AND queue = ANY($1)`
		args = append(args, s.stored(queue.NormalizeAll(queues)))
	}
	query += ` ORDER BY queue, seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return s.collectJobs(rows)
}

// ListQueues returns the names of non-empty queues, sorted.
func (s *Store) ListQueues(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT queue FROM backlog_jobs WHERE state = 'queued' ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list queues: %w", err)
	}
	stored, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: list queues: %w", err)
	}

	names := make([]string, len(stored))
	for i, q := range stored {
		names[i] = s.queues.Strip(q)
	}
	return names, nil
}

// ClearQueues deletes queued jobs in the given queues, or in every
// non-empty queue.
func (s *Store) ClearQueues(ctx context.Context, queues []string) ([]string, error) {
	names := queue.NormalizeAll(queues)
	if len(names) == 0 {
		var err error
		if names, err = s.ListQueues(ctx); err != nil {
			return nil, err
		}
	}
	if len(names) == 0 {
		return names, nil
	}

	_, err := s.pool.Exec(ctx,
		`DELETE FROM backlog_jobs WHERE state = 'queued' AND queue = ANY($1)`,
		s.stored(names),
	)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: clear queues: %w", err)
	}
	return names, nil
}

// CountJobs returns the number of queued jobs in q.
func (s *Store) CountJobs(ctx context.Context, q string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM backlog_jobs WHERE state = 'queued' AND queue = $1`,
		s.queues.Apply(q),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("backlog/postgres: count jobs: %w", err)
	}
	return count, nil
}

// HeartbeatJob refreshes the heartbeat of a job running on workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backlog_jobs SET heartbeat_at = $3
		WHERE id = $1 AND state = 'running' AND worker_id = $2`,
		jobID.String(), workerID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("backlog/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM backlog_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1
		ORDER BY heartbeat_at`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("backlog/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return s.collectJobs(rows)
}

// scanJob scans a single job row.
func (s *Store) scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Queue, &j.Name, &j.Payload, &j.Codec, &j.Title, &stateStr,
		&j.EnqueuedAt, &j.RunAt, &j.MaxRetries, &j.RetryCount, &j.LastError,
		&timeoutNs, &workerStr, &j.StartedAt, &j.HeartbeatAt,
	)
	if err != nil {
		return nil, err
	}

	j.Queue = s.queues.Strip(j.Queue)
	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	j.EnqueuedAt = j.EnqueuedAt.UTC()
	j.RunAt = j.RunAt.UTC()

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("backlog/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func (s *Store) collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := s.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("backlog/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backlog/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
