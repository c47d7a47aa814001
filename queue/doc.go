// Package queue defines queue naming, the queue registry and per-queue
// rate limiting.
//
// Queues are named FIFO holding areas for job records. A job's Queue
// field names its queue; an empty name means [DefaultName]. Queues are
// created lazily by the first enqueue and vanish from listings once they
// hold no work, but the default queue always resolves.
//
// # Registry
//
// [Registry] hands out [Queue] handles over a store:
//
//	reg := queue.NewRegistry(store)
//	for _, q := range must(reg.ListNonEmpty(ctx)) {
//	    n, _ := q.Len(ctx)
//	    fmt.Println(q.Name(), n)
//	}
//
// Backends that share a keyspace use [Prefixer] to namespace queue names
// in storage and strip the namespace again at the read boundary.
//
// # Per-Queue Configuration
//
// Use [Config] to set per-queue rate limits and concurrency caps:
//
//	queue.Config{
//	    Name:           "email",
//	    MaxConcurrency: 5,      // max 5 concurrent email jobs
//	    RateLimit:      10,     // max 10 jobs/s claimed from this queue
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// # Manager
//
// [Manager] enforces the limits at claim time. It uses a token-bucket
// rate limiter (golang.org/x/time/rate) and an active-count gate for
// concurrency limits. Workers narrow their queue list with
// [Manager.Reserve] before claiming, [Manager.Settle] the reservation
// with the queue they claimed from, and [Manager.Release] that queue once
// the job is done.
//
// Queues without a [Config] have no limits beyond the pool-wide concurrency.
package queue
