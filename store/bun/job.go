package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// EnqueueJob persists a new job at the tail of its queue.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	m := s.toJobModel(j)
	m.State = string(job.StateQueued)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return backlog.ErrJobAlreadyExists
		}
		return fmt.Errorf("backlog/bun: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob marks the first due job of the first non-empty queue as
// running. SELECT FOR UPDATE SKIP LOCKED keeps concurrent claims apart.
func (s *Store) ClaimJob(ctx context.Context, queues []string, workerID id.WorkerID) (*job.Job, error) {
	names := s.stored(queue.NormalizeAll(queues))
	now := time.Now().UTC()

	m := new(jobModel)
	err := s.db.NewRaw(`
		UPDATE backlog_jobs
		SET state = 'running', worker_id = ?1, started_at = ?2, heartbeat_at = ?2
		WHERE id = (
			SELECT id FROM backlog_jobs
			WHERE state = 'queued'
			  AND queue = ANY(?0)
			  AND run_at <= ?2
			ORDER BY array_position(?0::text[], queue), seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`,
		pgdialect.Array(names), workerID.String(), now,
	).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // empty queues are not an error
		}
		return nil, fmt.Errorf("backlog/bun: claim job: %w", err)
	}
	return s.fromJobModel(m)
}

// GetJob retrieves a queued or running job.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, fmt.Errorf("backlog/bun: get job: %w", err)
	}
	return s.fromJobModel(m)
}

// CancelJob deletes a queued job and returns it.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewRaw(
		`DELETE FROM backlog_jobs WHERE id = ? AND state = 'queued' RETURNING *`,
		jobID.String(),
	).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, fmt.Errorf("backlog/bun: cancel job: %w", err)
	}
	return s.fromJobModel(m)
}

// DeleteJob removes a job in any state.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		TableExpr("backlog_jobs").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("backlog/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// RequeueJob moves a running job to the tail of its queue.
func (s *Store) RequeueJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.NewUpdate().
		TableExpr("backlog_jobs").
		Set("state = 'queued'").
		Set("seq = nextval(pg_get_serial_sequence('backlog_jobs', 'seq'))").
		Set("retry_count = ?", j.RetryCount).
		Set("last_error = ?", j.LastError).
		Set("run_at = ?", j.RunAt).
		Set("worker_id = ''").
		Set("started_at = NULL").
		Set("heartbeat_at = NULL").
		Where("id = ?", j.ID.String()).
		Where("state = 'running'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("backlog/bun: requeue job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// ListJobs returns queued jobs ordered by queue name then FIFO.
func (s *Store) ListJobs(ctx context.Context, queues []string) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).Where("state = 'queued'")
	if len(queues) > 0 {
		q = q.Where("queue IN (?)", bun.In(s.stored(queue.NormalizeAll(queues))))
	}
	if err := q.Order("queue ASC", "seq ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("backlog/bun: list jobs: %w", err)
	}
	return s.fromJobModels(models)
}

// ListQueues returns the names of non-empty queues, sorted.
func (s *Store) ListQueues(ctx context.Context) ([]string, error) {
	var stored []string
	err := s.db.NewSelect().
		TableExpr("backlog_jobs").
		ColumnExpr("DISTINCT queue").
		Where("state = 'queued'").
		OrderExpr("queue ASC").
		Scan(ctx, &stored)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: list queues: %w", err)
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

	_, err := s.db.NewDelete().
		TableExpr("backlog_jobs").
		Where("state = 'queued'").
		Where("queue IN (?)", bun.In(s.stored(names))).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: clear queues: %w", err)
	}
	return names, nil
}

// CountJobs returns the number of queued jobs in q.
func (s *Store) CountJobs(ctx context.Context, q string) (int64, error) {
	count, err := s.db.NewSelect().
		TableExpr("backlog_jobs").
		Where("state = 'queued'").
		Where("queue = ?", s.queues.Apply(q)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("backlog/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

// HeartbeatJob refreshes the heartbeat of a job running on workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		TableExpr("backlog_jobs").
		Set("heartbeat_at = ?", time.Now().UTC()).
		Where("id = ?", jobID.String()).
		Where("state = 'running'").
		Where("worker_id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("backlog/bun: heartbeat job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("state = 'running'").
		Where("heartbeat_at IS NOT NULL").
		Where("heartbeat_at < ?", time.Now().UTC().Add(-threshold)).
		Order("heartbeat_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: reap stale jobs: %w", err)
	}
	return s.fromJobModels(models)
}
