// Package engine wires the backlog subsystems together and provides the
// application-level API: register job functions, enqueue them, inspect
// and administer queues, and build workers.
//
// Engine sits above the job, queue, dlq, worker and store packages so
// none of them need to import one another.
//
// # Building an Engine
//
//	s := memory.New()
//	eng, err := engine.New(s,
//	    engine.WithLogger(logger),
//	    engine.WithBackoff(backoff.Exponential{Initial: time.Second, Max: time.Minute}),
//	    engine.WithQueueConfig(queue.Config{Name: "mail", RateLimit: 50}),
//	)
//
// # Registering and Enqueuing Work
//
//	engine.Register(eng, job.NewDefinition("send_email", sendEmail))
//
//	j, err := engine.Enqueue(ctx, eng, "send_email", EmailInput{To: "a@b.c"},
//	    job.WithQueue("mail"), job.WithTitle("welcome"))
//
// # Introspection
//
//	jobs, _ := eng.List(ctx, "mail")
//	j, err := eng.Show(ctx, jobID)       // backlog.ErrJobNotFound if gone
//	_, err = eng.Cancel(ctx, jobID)      // only queued jobs
//	names, _ := eng.Clear(ctx, "mail")
//
// # Running Workers
//
//	err := eng.NewPool(worker.WithPoolQueues([]string{"mail", "default"})).
//	    Run(ctx, true) // burst: drain and return
package engine
