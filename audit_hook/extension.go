package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.JobEnqueued   = (*Extension)(nil)
	_ ext.JobStarted    = (*Extension)(nil)
	_ ext.JobFinished   = (*Extension)(nil)
	_ ext.JobFailed     = (*Extension)(nil)
	_ ext.JobRetrying   = (*Extension)(nil)
	_ ext.JobCancelled  = (*Extension)(nil)
	_ ext.JobReaped     = (*Extension)(nil)
	_ ext.QueuesCleared = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes each event to logger at level.
func LogRecorder(logger *slog.Logger, level slog.Level) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		attrs := []slog.Attr{
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit "+evt.Action, attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges backlog lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j, nil,
		"title", j.Title,
		"run_at", j.RunAt.Format(time.RFC3339),
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, nil,
		"worker_id", j.WorkerID.String(),
		"attempt", j.RetryCount+1,
	)
}

// OnJobFinished implements ext.JobFinished.
func (e *Extension) OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.recordJob(ctx, ActionJobFinished, SeverityInfo, OutcomeSuccess, j, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.recordJob(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j, jobErr,
		"retry_count", j.RetryCount,
		"max_retries", j.MaxRetries,
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, runAt time.Time) error {
	return e.recordJob(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j, nil,
		"attempt", attempt,
		"next_run_at", runAt.Format(time.RFC3339),
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess, j, nil)
}

// OnJobReaped implements ext.JobReaped.
func (e *Extension) OnJobReaped(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobReaped, SeverityWarning, OutcomeFailure, j, nil,
		"worker_id", j.WorkerID.String(),
	)
}

// ── Queue hooks ─────────────────────────────────────

// OnQueuesCleared implements ext.QueuesCleared.
func (e *Extension) OnQueuesCleared(ctx context.Context, queues []string) error {
	return e.record(ctx, ActionQueuesCleared, SeverityInfo, OutcomeSuccess,
		ResourceQueue, strings.Join(queues, ","), CategoryQueue, nil,
		"count", len(queues),
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordJob(ctx context.Context, action, severity, outcome string, j *job.Job, err error, kvPairs ...any) error {
	kvPairs = append([]any{"job_name", j.Name, "queue", j.Queue}, kvPairs...)
	return e.record(ctx, action, severity, outcome, ResourceJob, j.ID.String(), CategoryJob, err, kvPairs...)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.Any("error", recErr),
		)
	}
	return nil
}
