package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// ── Job model ─────────────────────────────────────────────────────

// jobModel maps backlog_jobs. The table layout matches the pgx store, so
// both backends can share one database.
type jobModel struct {
	bun.BaseModel `bun:"table:backlog_jobs"`

	ID          string     `bun:"id,pk"`
	Seq         int64      `bun:"seq,autoincrement,notnull"`
	Queue       string     `bun:"queue,notnull"`
	Name        string     `bun:"name,notnull"`
	Payload     []byte     `bun:"payload,type:bytea"`
	Codec       string     `bun:"codec,notnull,default:'json'"`
	Title       string     `bun:"title,notnull,default:''"`
	State       string     `bun:"state,notnull,default:'queued'"`
	EnqueuedAt  time.Time  `bun:"enqueued_at,notnull,default:current_timestamp"`
	RunAt       time.Time  `bun:"run_at,notnull,default:current_timestamp"`
	MaxRetries  int        `bun:"max_retries,notnull,default:0"`
	RetryCount  int        `bun:"retry_count,notnull,default:0"`
	LastError   string     `bun:"last_error,notnull,default:''"`
	Timeout     int64      `bun:"timeout,notnull,default:0"`
	WorkerID    string     `bun:"worker_id,notnull,default:''"`
	StartedAt   *time.Time `bun:"started_at"`
	HeartbeatAt *time.Time `bun:"heartbeat_at"`
}

func (s *Store) toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:          j.ID.String(),
		Queue:       s.queues.Apply(j.Queue),
		Name:        j.Name,
		Payload:     j.Payload,
		Codec:       j.Codec,
		Title:       j.Title,
		State:       string(j.State),
		EnqueuedAt:  j.EnqueuedAt,
		RunAt:       j.RunAt,
		MaxRetries:  j.MaxRetries,
		RetryCount:  j.RetryCount,
		LastError:   j.LastError,
		Timeout:     j.Timeout.Nanoseconds(),
		StartedAt:   j.StartedAt,
		HeartbeatAt: j.HeartbeatAt,
	}
	if !j.WorkerID.IsNil() {
		m.WorkerID = j.WorkerID.String()
	}
	return m
}

func (s *Store) fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:          parsedID,
		Queue:       s.queues.Strip(m.Queue),
		Name:        m.Name,
		Payload:     m.Payload,
		Codec:       m.Codec,
		Title:       m.Title,
		State:       job.State(m.State),
		EnqueuedAt:  m.EnqueuedAt.UTC(),
		RunAt:       m.RunAt.UTC(),
		MaxRetries:  m.MaxRetries,
		RetryCount:  m.RetryCount,
		LastError:   m.LastError,
		Timeout:     time.Duration(m.Timeout),
		StartedAt:   m.StartedAt,
		HeartbeatAt: m.HeartbeatAt,
	}

	if m.WorkerID != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return j, nil
}

func (s *Store) fromJobModels(models []jobModel) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := s.fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqModel struct {
	bun.BaseModel `bun:"table:backlog_dlq"`

	ID         string     `bun:"id,pk"`
	JobID      string     `bun:"job_id,notnull"`
	JobName    string     `bun:"job_name,notnull"`
	Queue      string     `bun:"queue,notnull"`
	Title      string     `bun:"title,notnull,default:''"`
	Payload    []byte     `bun:"payload,type:bytea"`
	Codec      string     `bun:"codec,notnull,default:'json'"`
	Error      string     `bun:"error,notnull,default:''"`
	RetryCount int        `bun:"retry_count,notnull,default:0"`
	MaxRetries int        `bun:"max_retries,notnull,default:0"`
	EnqueuedAt time.Time  `bun:"enqueued_at,notnull"`
	FailedAt   time.Time  `bun:"failed_at,notnull,default:current_timestamp"`
	RequeuedAt *time.Time `bun:"requeued_at"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:         e.ID.String(),
		JobID:      e.JobID.String(),
		JobName:    e.JobName,
		Queue:      e.Queue,
		Title:      e.Title,
		Payload:    e.Payload,
		Codec:      e.Codec,
		Error:      e.Error,
		RetryCount: e.RetryCount,
		MaxRetries: e.MaxRetries,
		EnqueuedAt: e.EnqueuedAt,
		FailedAt:   e.FailedAt,
		RequeuedAt: e.RequeuedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseFailureID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: parse dlq id %q: %w", m.ID, err)
	}
	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("backlog/bun: parse dlq job id %q: %w", m.JobID, err)
	}

	return &dlq.Entry{
		ID:         parsedID,
		JobID:      parsedJobID,
		JobName:    m.JobName,
		Queue:      m.Queue,
		Title:      m.Title,
		Payload:    m.Payload,
		Codec:      m.Codec,
		Error:      m.Error,
		RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries,
		EnqueuedAt: m.EnqueuedAt.UTC(),
		FailedAt:   m.FailedAt.UTC(),
		RequeuedAt: m.RequeuedAt,
	}, nil
}
