package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Broker)(nil)
	_ ext.JobEnqueued   = (*Broker)(nil)
	_ ext.JobStarted    = (*Broker)(nil)
	_ ext.JobFinished   = (*Broker)(nil)
	_ ext.JobFailed     = (*Broker)(nil)
	_ ext.JobRetrying   = (*Broker)(nil)
	_ ext.JobCancelled  = (*Broker)(nil)
	_ ext.JobReaped     = (*Broker)(nil)
	_ ext.QueuesCleared = (*Broker)(nil)
	_ ext.Shutdown      = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker receives lifecycle hooks and publishes them to subscribers.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	totalPublished atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      NewTopicRegistry(),
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe creates a subscriber on the given topics, replacing any
// subscriber with the same ID.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	b.RemoveSubscriber(subscriberID)

	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.mu.Lock()
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()

	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)

	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var dropped int64
	for _, s := range subs {
		dropped += s.Dropped()
	}
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: len(subs),
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    dropped,
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

func (b *Broker) publish(typ EventType, topic, queue string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn("stream: marshal event data",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
		return
	}

	evt := &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Queue:     queue,
		Data:      raw,
	}
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func jobData(j *job.Job) JobEventData {
	d := JobEventData{
		JobID:   j.ID.String(),
		JobName: j.Name,
		Queue:   j.Queue,
		Title:   j.Title,
	}
	if !j.WorkerID.IsNil() {
		d.WorkerID = j.WorkerID.String()
	}
	return d
}

func (b *Broker) publishJob(typ EventType, j *job.Job, d JobEventData) {
	b.publish(typ, JobTopic(j.ID.String()), j.Queue, d)
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobEnqueued, j, jobData(j))
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	d := jobData(j)
	d.Attempt = j.RetryCount + 1
	b.publishJob(EventJobStarted, j, d)
	return nil
}

func (b *Broker) OnJobFinished(_ context.Context, j *job.Job, elapsed time.Duration) error {
	d := jobData(j)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publishJob(EventJobFinished, j, d)
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	d := jobData(j)
	d.Error = jobErr.Error()
	b.publishJob(EventJobFailed, j, d)
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, attempt int, runAt time.Time) error {
	d := jobData(j)
	d.Attempt = attempt
	d.Error = j.LastError
	d.NextRunAt = runAt.Format(time.RFC3339)
	b.publishJob(EventJobRetrying, j, d)
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobCancelled, j, jobData(j))
	return nil
}

func (b *Broker) OnJobReaped(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobReaped, j, jobData(j))
	return nil
}

// ── Queue hooks ─────────────────────────────────────

func (b *Broker) OnQueuesCleared(_ context.Context, queues []string) error {
	for _, q := range queues {
		b.publish(EventQueuesCleared, QueueTopic(q), q, QueueEventData{Queue: q})
	}
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown closes every subscriber so consumers ranging over C return.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for id, sub := range subs {
		b.topics.UnsubscribeAll(id)
		sub.Close()
	}
	b.logger.Debug("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}
