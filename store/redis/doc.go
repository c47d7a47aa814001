// Package redis implements store.Store on Redis.
//
// Each job is a hash; each queue is a sorted set of job IDs scored by a
// global insertion sequence, which gives FIFO order and puts retried jobs
// at the tail. Jobs whose run_at is in the future, such as retries waiting
// out their backoff, sit in a per-queue delayed set scored by run_at and
// are promoted into the queue under their sequence once due, so a claim
// never scans past jobs it cannot take. Claim, cancel, requeue and clear run as Lua scripts so
// they are atomic with respect to one another: two workers can never
// claim the same job, and a cancel racing a claim has exactly one winner.
//
// All keys live under a namespace (default "backlog:"). Queue keys carry
// the namespace; queue names returned by the store never do.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Migrate(ctx); err != nil { ... }
//
// The scripts touch keys they derive at run time, so the store needs a
// single Redis node or a replicated primary, not Redis Cluster.
package redis
