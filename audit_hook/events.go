package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued   = "job.enqueued"
	ActionJobStarted    = "job.started"
	ActionJobFinished   = "job.finished"
	ActionJobFailed     = "job.failed"
	ActionJobRetrying   = "job.retrying"
	ActionJobCancelled  = "job.cancelled"
	ActionJobReaped     = "job.reaped"
	ActionQueuesCleared = "queue.cleared"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "backlog.job"
	CategoryQueue = "backlog.queue"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceQueue = "queue"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobFinished,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCancelled,
		ActionJobReaped,
		ActionQueuesCleared,
	}
}
