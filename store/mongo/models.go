package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID          string     `bson:"_id"`
	Seq         int64      `bson:"seq"`
	Queue       string     `bson:"queue"`
	Name        string     `bson:"name"`
	Payload     []byte     `bson:"payload"`
	Codec       string     `bson:"codec"`
	Title       string     `bson:"title"`
	State       string     `bson:"state"`
	EnqueuedAt  time.Time  `bson:"enqueued_at"`
	RunAt       time.Time  `bson:"run_at"`
	MaxRetries  int        `bson:"max_retries"`
	RetryCount  int        `bson:"retry_count"`
	LastError   string     `bson:"last_error"`
	Timeout     int64      `bson:"timeout"`
	WorkerID    string     `bson:"worker_id"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	HeartbeatAt *time.Time `bson:"heartbeat_at,omitempty"`
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
		return nil, fmt.Errorf("backlog/mongo: parse job id %q: %w", m.ID, err)
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
		StartedAt:   utcPtr(m.StartedAt),
		HeartbeatAt: utcPtr(m.HeartbeatAt),
	}

	if m.WorkerID != "" {
		if parsedWorker, wErr := id.ParseWorkerID(m.WorkerID); wErr == nil {
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
	ID         string     `bson:"_id"`
	JobID      string     `bson:"job_id"`
	JobName    string     `bson:"job_name"`
	Queue      string     `bson:"queue"`
	Title      string     `bson:"title"`
	Payload    []byte     `bson:"payload"`
	Codec      string     `bson:"codec"`
	Error      string     `bson:"error"`
	RetryCount int        `bson:"retry_count"`
	MaxRetries int        `bson:"max_retries"`
	EnqueuedAt time.Time  `bson:"enqueued_at"`
	FailedAt   time.Time  `bson:"failed_at"`
	RequeuedAt *time.Time `bson:"requeued_at,omitempty"`
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
		return nil, fmt.Errorf("backlog/mongo: parse dlq id %q: %w", m.ID, err)
	}
	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: parse dlq job id %q: %w", m.JobID, err)
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
		RequeuedAt: utcPtr(m.RequeuedAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
