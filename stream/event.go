// Package stream fans backlog lifecycle events out to in-process
// subscribers over topic-based pub/sub. The Broker is an ext.Extension, so
// registering it on an engine is enough to start publishing.
//
//	b := stream.NewBroker(logger)
//	eng, _ := engine.New(store, engine.WithExtension(b))
//	sub := b.Subscribe("tail", stream.QueueTopic("emails"))
//	for evt := range sub.C() { ... }
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobEnqueued   EventType = "job.enqueued"
	EventJobStarted    EventType = "job.started"
	EventJobFinished   EventType = "job.finished"
	EventJobFailed     EventType = "job.failed"
	EventJobRetrying   EventType = "job.retrying"
	EventJobCancelled  EventType = "job.cancelled"
	EventJobReaped     EventType = "job.reaped"
	EventQueuesCleared EventType = "queue.cleared"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic the event belongs to, e.g. job:<id>.
	Topic string `json:"topic"`

	// Queue also routes the event to queue:<name> subscribers.
	Queue string `json:"queue,omitempty"`

	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	JobName   string `json:"job_name"`
	Queue     string `json:"queue"`
	Title     string `json:"title,omitempty"`
	WorkerID  string `json:"worker_id,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// QueueEventData is the payload for queue events.
type QueueEventData struct {
	Queue string `json:"queue"`
}
