// Package ext defines lifecycle hooks for backlog.
//
// Extensions are notified of job and queue events and can react to them,
// for example by recording metrics or writing an audit trail. Each hook is
// a separate interface so an extension opts in only to the events it
// cares about.
//
//	type auditExt struct{ w io.Writer }
//
//	func (a *auditExt) Name() string { return "audit" }
//
//	func (a *auditExt) OnJobCancelled(_ context.Context, j *job.Job) error {
//	    _, err := fmt.Fprintf(a.w, "cancelled %s\n", j.ID)
//	    return err
//	}
//
// Hooks:
//
//   - [JobEnqueued], [JobStarted], [JobFinished]
//   - [JobFailed] (retries exhausted), [JobRetrying]
//   - [JobCancelled], [JobReaped]
//   - [QueuesCleared], [Shutdown]
//
// A hook error is logged by the [Registry] and otherwise ignored.
package ext
