// Package backlog provides durable, multi-queue background jobs for Go.
//
// Jobs are registered as ordinary Go functions under a name, enqueued with
// serialized arguments into named FIFO queues, and executed by workers that
// run either in burst mode (drain the queues, then stop) or continuously
// (poll until told to stop).
//
// # Quick Start
//
//	s := memory.New()
//	eng, err := engine.New(s, engine.WithLogger(logger))
//
//	engine.Register(eng, job.NewDefinition("send_email",
//	    func(ctx context.Context, in EmailInput) error { ... }))
//
//	j, err := engine.Enqueue(ctx, eng, "send_email", in,
//	    job.WithQueue("mail"), job.WithTitle("welcome mail"))
//
//	err = eng.NewPool(worker.WithPoolQueues([]string{"mail"})).Run(ctx, true)
//
// # Architecture
//
// Subsystems (job, queue, dlq) define their own store contracts and a
// single backend implements all of them: store/memory, store/redis and
// store/postgres. Every queue mutation is a single atomic store operation,
// so concurrent workers never execute the same job twice and a cancel that
// races a worker's claim has exactly one winner.
//
// Job IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based identifiers.
package backlog
