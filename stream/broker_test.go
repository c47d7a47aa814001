package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(q string) *job.Job {
	return &job.Job{ID: id.NewJobID(), Name: "send", Queue: q, Title: "hello"}
}

func recv(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func expectNone(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected event %s on %s", evt.Type, evt.Topic)
	default:
	}
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	b := NewBroker(testLogger())
	j := testJob("emails")
	sub := b.Subscribe("s1", JobTopic(j.ID.String()))

	if err := b.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatal(err)
	}

	evt := recv(t, sub)
	if evt.Type != EventJobEnqueued {
		t.Errorf("Type = %s", evt.Type)
	}
	var data JobEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.JobID != j.ID.String() || data.Queue != "emails" || data.Title != "hello" {
		t.Errorf("data = %+v", data)
	}
}

func TestBrokerQueueTopic(t *testing.T) {
	b := NewBroker(testLogger())
	emails := b.Subscribe("emails", QueueTopic("emails"))
	other := b.Subscribe("other", QueueTopic("other"))
	ctx := context.Background()

	j := testJob("emails")
	_ = b.OnJobStarted(ctx, j)
	_ = b.OnJobFinished(ctx, j, 20*time.Millisecond)

	if evt := recv(t, emails); evt.Type != EventJobStarted {
		t.Errorf("first = %s", evt.Type)
	}
	evt := recv(t, emails)
	var data JobEventData
	_ = json.Unmarshal(evt.Data, &data)
	if evt.Type != EventJobFinished || data.ElapsedMs != 20 {
		t.Errorf("second = %s %+v", evt.Type, data)
	}
	expectNone(t, other)
}

func TestBrokerFirehoseAndJobs(t *testing.T) {
	b := NewBroker(testLogger())
	fire := b.Subscribe("fire", TopicFirehose)
	jobs := b.Subscribe("jobs", TopicJobs)
	ctx := context.Background()

	_ = b.OnQueuesCleared(ctx, []string{"a", "b"})
	_ = b.OnJobFailed(ctx, testJob("a"), errors.New("boom"))

	for _, want := range []EventType{EventQueuesCleared, EventQueuesCleared, EventJobFailed} {
		if evt := recv(t, fire); evt.Type != want {
			t.Errorf("firehose got %s, want %s", evt.Type, want)
		}
	}
	if evt := recv(t, jobs); evt.Type != EventJobFailed {
		t.Errorf("jobs got %s", evt.Type)
	}
	expectNone(t, jobs)
}

func TestBroadcastDeduplication(t *testing.T) {
	b := NewBroker(testLogger())
	j := testJob("q")
	sub := b.Subscribe("s", TopicFirehose, TopicJobs, QueueTopic("q"), JobTopic(j.ID.String()))

	_ = b.OnJobCancelled(context.Background(), j)

	recv(t, sub)
	expectNone(t, sub)
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicJobs, TopicFirehose)
	b.Unsubscribe("s", TopicJobs, TopicFirehose)

	_ = b.OnJobEnqueued(context.Background(), testJob("q"))
	expectNone(t, sub)

	b.RemoveSubscriber("s")
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after RemoveSubscriber")
	}
}

func TestBrokerStatsCountsDrops(t *testing.T) {
	b := NewBroker(testLogger(), WithBufferSize(1))
	b.Subscribe("s", TopicJobs)
	ctx := context.Background()

	_ = b.OnJobEnqueued(ctx, testJob("q"))
	_ = b.OnJobEnqueued(ctx, testJob("q"))

	st := b.Stats()
	if st.SubscriberCount != 1 || st.TotalPublished != 1 || st.TotalDropped != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSubscriberFilter(t *testing.T) {
	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicJobs)
	sub.SetFilter(func(e *Event) bool { return e.Type == EventJobFailed })
	ctx := context.Background()

	_ = b.OnJobEnqueued(ctx, testJob("q"))
	_ = b.OnJobFailed(ctx, testJob("q"), errors.New("x"))

	if evt := recv(t, sub); evt.Type != EventJobFailed {
		t.Errorf("got %s", evt.Type)
	}
	expectNone(t, sub)
}

func TestShutdownClosesSubscribers(t *testing.T) {
	b := NewBroker(testLogger())
	sub := b.Subscribe("s", TopicFirehose)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after shutdown")
	}
	if st := b.Stats(); st.SubscriberCount != 0 || st.TopicCount != 0 {
		t.Errorf("stats after shutdown = %+v", st)
	}
	sub.Close() // second close is a no-op
}

func TestValidateTopic(t *testing.T) {
	valid := []string{TopicJobs, TopicFirehose, "job:abc", "queue:emails"}
	for _, topic := range valid {
		if err := ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) = %v", topic, err)
		}
	}
	invalid := []string{"", "queue:", "workflow:x", "nope"}
	for _, topic := range invalid {
		if err := ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) should fail", topic)
		}
	}
}

func TestResolveTopics(t *testing.T) {
	evt := &Event{Type: EventJobStarted, Topic: "job:1", Queue: "q"}
	got := resolveTopics(evt)
	want := []string{TopicFirehose, TopicJobs, "job:1", "queue:q"}
	if len(got) != len(want) {
		t.Fatalf("resolveTopics = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topic[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	cleared := resolveTopics(&Event{Type: EventQueuesCleared, Topic: "queue:q", Queue: "q"})
	if len(cleared) != 2 {
		t.Errorf("queue event topics = %v", cleared)
	}
}
