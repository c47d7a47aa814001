package redis

import "github.com/xraph/backlog/queue"

// keys builds every Redis key under one namespace (default "backlog:").
//
//	{ns}job:{id}       hash   job record
//	{ns}queue:{name}   zset   due job IDs scored by insertion sequence
//	{ns}delayed:{name} zset   job IDs waiting for run_at, scored by run_at (ms)
//	{ns}queues         set    queue zset keys that may hold work
//	{ns}running        set    IDs of claimed jobs
//	{ns}seq            string insertion sequence counter
//	{ns}dlq:{id}       hash   failure record
//	{ns}dlq            zset   failure IDs scored by failed_at (ms)
type keys struct {
	ns      string
	queues  queue.Prefixer
	delayed queue.Prefixer
}

func newKeys(ns string) keys {
	return keys{
		ns:      ns,
		queues:  queue.Prefixer(ns + "queue:"),
		delayed: queue.Prefixer(ns + "delayed:"),
	}
}

func (k keys) jobPrefix() string           { return k.ns + "job:" }
func (k keys) job(id string) string        { return k.jobPrefix() + id }
func (k keys) queue(name string) string    { return k.queues.Apply(name) }
func (k keys) queueName(key string) string { return k.queues.Strip(key) }
func (k keys) waiting(name string) string  { return k.delayed.Apply(name) }
func (k keys) queueSet() string            { return k.ns + "queues" }
func (k keys) running() string             { return k.ns + "running" }
func (k keys) seq() string                 { return k.ns + "seq" }
func (k keys) dlq(id string) string        { return k.ns + "dlq:" + id }
func (k keys) dlqIndex() string            { return k.ns + "dlq" }
