// Package job defines the job record, its state machine, typed
// definitions, payload codecs and the store interface.
//
// # Job Record
//
// A [Job] represents a unit of deferred work: a function reference
// (Name), encoded arguments (Payload) and runtime metadata. It moves
// through a small state machine:
//
//	queued → running → finished   (record removed)
//	queued → running → failed     (record removed, failure recorded)
//	queued → running → queued     (retry, back to the queue tail)
//	queued → (cancelled)          (record removed)
//
// # Defining a Job
//
// Use [Definition] with a typed handler. Arguments are encoded at enqueue
// time and decoded before the handler runs:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	)
//
// # Registry
//
// [Registry] is the fixed lookup table that resolves a job's Name to a
// type-erased [HandlerFunc] when a worker runs it:
//
//	job.RegisterDefinition(registry, SendEmail)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
