// Package dlq keeps a record of jobs that failed with no retries left.
//
// When a job's final attempt fails the worker calls [Service.Push], which
// stores an [Entry] with the job's identity, arguments and last error.
// The job record itself is removed from its queue as usual; the entry is
// what remains for inspection.
//
//	svc := dlq.NewService(store, store)
//	entries, _ := svc.List(ctx, dlq.ListOpts{Queues: []string{"emails"}})
//
// [Service.Requeue] enqueues a failed job again under a new ID and stamps
// the entry with RequeuedAt. [Service.Purge] drops old entries.
package dlq
