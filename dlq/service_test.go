package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store/memory"
)

func newTestJob(name string, payload []byte) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      "emails",
		Title:      "welcome",
		Payload:    payload,
		Codec:      job.CodecJSON,
		State:      job.StateRunning,
		MaxRetries: 2,
		RetryCount: 2,
		LastError:  "test error",
		EnqueuedAt: now.Truncate(time.Second),
		RunAt:      now,
	}
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := newTestJob("send-email", []byte(`{"to":"alice@example.com"}`))
	if err := svc.Push(ctx, j, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := svc.List(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.ID.Prefix() != id.PrefixFailure {
		t.Errorf("entry ID prefix = %q", e.ID.Prefix())
	}
	checks := []struct {
		field     string
		got, want any
	}{
		{"JobID", e.JobID, j.ID},
		{"JobName", e.JobName, "send-email"},
		{"Queue", e.Queue, "emails"},
		{"Title", e.Title, "welcome"},
		{"Payload", string(e.Payload), `{"to":"alice@example.com"}`},
		{"Codec", e.Codec, job.CodecJSON},
		{"Error", e.Error, "smtp timeout"},
		{"RetryCount", e.RetryCount, 2},
		{"MaxRetries", e.MaxRetries, 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
	if e.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if e.Requeued() {
		t.Error("fresh entry must not be marked requeued")
	}
}

func TestService_Requeue_CreatesFreshQueuedJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	original := newTestJob("requeue-me", []byte(`{"key":"value"}`))
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, _ := svc.List(ctx, dlq.ListOpts{})

	requeued, err := svc.Requeue(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if requeued.ID == original.ID {
		t.Error("requeued job should have a new ID")
	}
	if requeued.State != job.StateQueued || requeued.RetryCount != 0 {
		t.Errorf("unexpected requeued job %+v", requeued)
	}
	if requeued.Name != "requeue-me" || requeued.Queue != "emails" || requeued.Title != "welcome" {
		t.Errorf("identity not carried over: %+v", requeued)
	}

	got, err := s.GetJob(ctx, requeued.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if string(got.Payload) != `{"key":"value"}` {
		t.Errorf("Payload = %q", got.Payload)
	}

	entry, _ := s.GetDLQ(ctx, entries[0].ID)
	if !entry.Requeued() {
		t.Error("entry should be stamped as requeued")
	}
}

func TestService_Requeue_UnknownEntry(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)

	_, err := svc.Requeue(context.Background(), id.NewFailureID())
	if !errors.Is(err, backlog.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
	if n, _ := s.CountJobs(context.Background(), "emails"); n != 0 {
		t.Errorf("no job should be enqueued, found %d", n)
	}
}

func TestService_Purge(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	for range 3 {
		if err := svc.Push(ctx, newTestJob("x", nil), errors.New("fail")); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	n, err := svc.Purge(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 3 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
	if c, _ := svc.Store().CountDLQ(ctx); c != 0 {
		t.Errorf("CountDLQ after purge = %d", c)
	}
}
