// Package storetest holds the behaviour suite every store backend must
// pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store"
)

// Factory returns a fresh, empty, migrated store for one test.
type Factory func(t *testing.T) store.Store

// NewJob builds a queued job ready to enqueue.
func NewJob(name, q, title string) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:         id.NewJobID(),
		Queue:      q,
		Name:       name,
		Payload:    []byte(`{"n":1}`),
		Codec:      job.CodecJSON,
		Title:      title,
		State:      job.StateQueued,
		EnqueuedAt: now.Truncate(time.Second),
		RunAt:      now.Add(-time.Second),
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"ListFIFO", testListFIFO},
		{"ListAcrossQueues", testListAcrossQueues},
		{"ClaimQueueOrder", testClaimQueueOrder},
		{"ClaimSkipsFutureRunAt", testClaimSkipsFutureRunAt},
		{"ClaimBehindManyDelayed", testClaimBehindManyDelayed},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimConcurrent", testClaimConcurrent},
		{"CancelQueued", testCancelQueued},
		{"CancelRunning", testCancelRunning},
		{"CancelClaimRace", testCancelClaimRace},
		{"DeleteJob", testDeleteJob},
		{"RequeueJob", testRequeueJob},
		{"RequeueDelayed", testRequeueDelayed},
		{"ClearQueues", testClearQueues},
		{"ClearAll", testClearAll},
		{"HeartbeatAndReap", testHeartbeatAndReap},
		{"DLQ", testDLQ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustEnqueue(t *testing.T, s store.Store, js ...*job.Job) {
	t.Helper()
	for _, j := range js {
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.ID, err)
		}
	}
}

func ids(js []*job.Job) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.ID.String()
	}
	return out
}

func equal(a, b []string) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("send-email", "emails", "welcome")
	mustEnqueue(t, s, j)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.Queue != "emails" || got.Title != "welcome" || got.Name != "send-email" {
		t.Errorf("unexpected record %+v", got)
	}
	if got.State != job.StateQueued {
		t.Errorf("State = %q, want queued", got.State)
	}
	if !got.EnqueuedAt.Equal(j.EnqueuedAt) {
		t.Errorf("EnqueuedAt = %v, want %v", got.EnqueuedAt, j.EnqueuedAt)
	}
	if string(got.Payload) != `{"n":1}` {
		t.Errorf("Payload = %q", got.Payload)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("GetJob(unknown) = %v, want ErrJobNotFound", err)
	}
}

func testEnqueueDuplicate(t *testing.T, s store.Store) {
	j := NewJob("x", "default", "")
	mustEnqueue(t, s, j)
	if err := s.EnqueueJob(context.Background(), j); !errors.Is(err, backlog.ErrJobAlreadyExists) {
		t.Fatalf("second EnqueueJob = %v, want ErrJobAlreadyExists", err)
	}
}

func testListFIFO(t *testing.T, s store.Store) {
	ctx := context.Background()
	var want []string
	for i := range 5 {
		j := NewJob("x", "q", fmt.Sprintf("job %d", i))
		mustEnqueue(t, s, j)
		want = append(want, j.ID.String())
	}

	got, err := s.ListJobs(ctx, []string{"q"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if !equal(ids(got), want) {
		t.Fatalf("ListJobs = %v, want %v", ids(got), want)
	}

	n, err := s.CountJobs(ctx, "q")
	if err != nil || n != 5 {
		t.Fatalf("CountJobs = %d, %v", n, err)
	}

	empty, err := s.ListJobs(ctx, []string{"nothing-here"})
	if err != nil || len(empty) != 0 {
		t.Fatalf("ListJobs(empty) = %v, %v", empty, err)
	}
}

func testListAcrossQueues(t *testing.T, s store.Store) {
	ctx := context.Background()
	b1 := NewJob("x", "b", "")
	a1 := NewJob("x", "a", "")
	b2 := NewJob("x", "b", "")
	d := NewJob("x", "", "")
	mustEnqueue(t, s, b1, a1, b2, d)

	got, err := s.ListJobs(ctx, nil)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	want := []string{a1.ID.String(), b1.ID.String(), b2.ID.String(), d.ID.String()}
	if !equal(ids(got), want) {
		t.Fatalf("ListJobs = %v, want %v", ids(got), want)
	}
	if got[3].Queue != "default" {
		t.Errorf("empty queue name stored as %q, want default", got[3].Queue)
	}

	queues, err := s.ListQueues(ctx)
	if err != nil {
		t.Fatalf("ListQueues: %v", err)
	}
	if !equal(queues, []string{"a", "b", "default"}) {
		t.Fatalf("ListQueues = %v", queues)
	}
}

func testClaimQueueOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	low := NewJob("x", "low", "")
	high1 := NewJob("x", "high", "")
	high2 := NewJob("x", "high", "")
	mustEnqueue(t, s, low, high1, high2)

	wid := id.NewWorkerID()
	var order []string
	for {
		j, err := s.ClaimJob(ctx, []string{"high", "low"}, wid)
		if err != nil {
			t.Fatalf("ClaimJob: %v", err)
		}
		if j == nil {
			break
		}
		if j.State != job.StateRunning || j.WorkerID != wid || j.StartedAt == nil {
			t.Errorf("claimed job not marked running: %+v", j)
		}
		order = append(order, j.ID.String())
	}

	want := []string{high1.ID.String(), high2.ID.String(), low.ID.String()}
	if !equal(order, want) {
		t.Fatalf("claim order = %v, want %v", order, want)
	}

	if n, _ := s.CountJobs(ctx, "high"); n != 0 {
		t.Errorf("claimed jobs must leave the queue, %d left", n)
	}
	if got, err := s.GetJob(ctx, low.ID); err != nil || got.State != job.StateRunning {
		t.Errorf("running job should stay visible to GetJob: %v %v", got, err)
	}
}

func testClaimSkipsFutureRunAt(t *testing.T, s store.Store) {
	ctx := context.Background()
	later := NewJob("x", "q", "")
	later.RunAt = time.Now().Add(time.Hour)
	now := NewJob("x", "q", "")
	mustEnqueue(t, s, later, now)

	j, err := s.ClaimJob(ctx, []string{"q"}, id.NewWorkerID())
	if err != nil || j == nil {
		t.Fatalf("ClaimJob = %v, %v", j, err)
	}
	if j.ID != now.ID {
		t.Fatalf("claimed %s, want the due job %s", j.ID, now.ID)
	}
	if j, _ := s.ClaimJob(ctx, []string{"q"}, id.NewWorkerID()); j != nil {
		t.Fatalf("job scheduled for later was claimed: %s", j.ID)
	}
}

func testClaimBehindManyDelayed(t *testing.T, s store.Store) {
	ctx := context.Background()
	const delayed = 100

	var want []string
	for range delayed {
		j := NewJob("x", "q", "")
		j.RunAt = time.Now().Add(time.Hour)
		mustEnqueue(t, s, j)
		want = append(want, j.ID.String())
	}
	due := NewJob("x", "q", "")
	mustEnqueue(t, s, due)

	j, err := s.ClaimJob(ctx, []string{"q"}, id.NewWorkerID())
	if err != nil || j == nil {
		t.Fatalf("ClaimJob = %v, %v", j, err)
	}
	if j.ID != due.ID {
		t.Fatalf("claimed %s, want the due job %s behind %d delayed ones", j.ID, due.ID, delayed)
	}

	if n, err := s.CountJobs(ctx, "q"); err != nil || n != delayed {
		t.Errorf("CountJobs = %d, %v; want %d", n, err, delayed)
	}
	list, err := s.ListJobs(ctx, []string{"q"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if !equal(ids(list), want) {
		t.Errorf("delayed jobs not listed in FIFO order")
	}
}

func testClaimEmpty(t *testing.T, s store.Store) {
	j, err := s.ClaimJob(context.Background(), []string{"a", "b"}, id.NewWorkerID())
	if err != nil || j != nil {
		t.Fatalf("ClaimJob on empty queues = %v, %v", j, err)
	}
}

func testClaimConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const jobs, workers = 20, 8
	for range jobs {
		mustEnqueue(t, s, NewJob("x", "q", ""))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wid := id.NewWorkerID()
			for {
				j, err := s.ClaimJob(ctx, []string{"q"}, wid)
				if err != nil {
					t.Errorf("ClaimJob: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), jobs)
	}
	for key, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", key, n)
		}
	}
}

func testCancelQueued(t *testing.T, s store.Store) {
	ctx := context.Background()
	j1 := NewJob("x", "default", "")
	j2 := NewJob("x", "default", "")
	mustEnqueue(t, s, j1, j2)

	got, err := s.CancelJob(ctx, j1.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if got.ID != j1.ID {
		t.Errorf("cancelled %s, want %s", got.ID, j1.ID)
	}
	if _, err := s.CancelJob(ctx, j1.ID); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("second CancelJob = %v, want ErrJobNotFound", err)
	}
	if _, err := s.GetJob(ctx, j1.ID); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("GetJob after cancel = %v, want ErrJobNotFound", err)
	}

	left, _ := s.ListJobs(ctx, nil)
	if !equal(ids(left), []string{j2.ID.String()}) {
		t.Fatalf("remaining = %v, want [%s]", ids(left), j2.ID)
	}
}

func testCancelRunning(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("x", "q", "")
	mustEnqueue(t, s, j)
	if _, err := s.ClaimJob(ctx, []string{"q"}, id.NewWorkerID()); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := s.CancelJob(ctx, j.ID); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Fatalf("CancelJob(running) = %v, want ErrJobNotFound", err)
	}
}

// testCancelClaimRace races a cancel against a claim of the same job. Exactly
// one of them may take it.
func testCancelClaimRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	const rounds = 50

	var claimWins, cancelWins int
	for i := range rounds {
		j := NewJob("x", "race", "")
		mustEnqueue(t, s, j)

		var (
			wg        sync.WaitGroup
			claimed   *job.Job
			claimErr  error
			cancelled *job.Job
			cancelErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			claimed, claimErr = s.ClaimJob(ctx, []string{"race"}, id.NewWorkerID())
		}()
		go func() {
			defer wg.Done()
			<-start
			cancelled, cancelErr = s.CancelJob(ctx, j.ID)
		}()
		close(start)
		wg.Wait()

		if claimErr != nil {
			t.Fatalf("round %d: ClaimJob: %v", i, claimErr)
		}
		if cancelErr != nil && !errors.Is(cancelErr, backlog.ErrJobNotFound) {
			t.Fatalf("round %d: CancelJob: %v", i, cancelErr)
		}

		switch won := cancelErr == nil; {
		case claimed != nil && won:
			t.Fatalf("round %d: job %s both claimed and cancelled", i, j.ID)
		case claimed == nil && !won:
			t.Fatalf("round %d: job %s neither claimed nor cancelled", i, j.ID)
		case won:
			cancelWins++
			if cancelled.ID != j.ID {
				t.Fatalf("round %d: cancelled %s, want %s", i, cancelled.ID, j.ID)
			}
			if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, backlog.ErrJobNotFound) {
				t.Fatalf("round %d: GetJob after cancel = %v", i, err)
			}
		default:
			claimWins++
			if claimed.ID != j.ID || claimed.State != job.StateRunning {
				t.Fatalf("round %d: claimed %+v", i, claimed)
			}
			if err := s.DeleteJob(ctx, j.ID); err != nil {
				t.Fatalf("round %d: DeleteJob: %v", i, err)
			}
		}
	}

	if n, err := s.CountJobs(ctx, "race"); err != nil || n != 0 {
		t.Errorf("CountJobs after race = %d, %v; want 0", n, err)
	}
	t.Logf("claim won %d, cancel won %d", claimWins, cancelWins)
}

func testDeleteJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	queued := NewJob("x", "q", "")
	running := NewJob("x", "r", "")
	mustEnqueue(t, s, queued, running)
	if _, err := s.ClaimJob(ctx, []string{"r"}, id.NewWorkerID()); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	for _, j := range []*job.Job{queued, running} {
		if err := s.DeleteJob(ctx, j.ID); err != nil {
			t.Fatalf("DeleteJob(%s): %v", j.ID, err)
		}
		if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, backlog.ErrJobNotFound) {
			t.Errorf("GetJob after delete = %v", err)
		}
	}
	if n, _ := s.CountJobs(ctx, "q"); n != 0 {
		t.Errorf("CountJobs after delete = %d", n)
	}
	if err := s.DeleteJob(ctx, queued.ID); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("second DeleteJob = %v, want ErrJobNotFound", err)
	}
}

func testRequeueJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := NewJob("x", "q", "")
	second := NewJob("x", "q", "")
	mustEnqueue(t, s, first, second)

	claimed, err := s.ClaimJob(ctx, []string{"q"}, id.NewWorkerID())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob = %v, %v", claimed, err)
	}

	claimed.RetryCount = 1
	claimed.LastError = "boom"
	if err := s.RequeueJob(ctx, claimed); err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}

	list, _ := s.ListJobs(ctx, []string{"q"})
	if !equal(ids(list), []string{second.ID.String(), first.ID.String()}) {
		t.Fatalf("requeued job should be at the tail: %v", ids(list))
	}
	got := list[1]
	if got.State != job.StateQueued || got.RetryCount != 1 || got.LastError != "boom" {
		t.Errorf("requeued record = %+v", got)
	}
	if !got.EnqueuedAt.Equal(first.EnqueuedAt) {
		t.Errorf("EnqueuedAt changed on requeue: %v != %v", got.EnqueuedAt, first.EnqueuedAt)
	}

	if err := s.RequeueJob(ctx, got); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("RequeueJob(queued) = %v, want ErrJobNotFound", err)
	}
}

func testRequeueDelayed(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s, NewJob("x", "q", ""))

	claimed, err := s.ClaimJob(ctx, []string{"q"}, id.NewWorkerID())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob = %v, %v", claimed, err)
	}
	claimed.RetryCount = 1
	claimed.RunAt = time.Now().Add(300 * time.Millisecond)
	if err := s.RequeueJob(ctx, claimed); err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}

	if j, _ := s.ClaimJob(ctx, []string{"q"}, id.NewWorkerID()); j != nil {
		t.Fatalf("retry claimed before its run_at: %s", j.ID)
	}
	if n, _ := s.CountJobs(ctx, "q"); n != 1 {
		t.Errorf("CountJobs while waiting = %d, want 1", n)
	}
	if queues, _ := s.ListQueues(ctx); !equal(queues, []string{"q"}) {
		t.Errorf("ListQueues while waiting = %v, want [q]", queues)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := s.ClaimJob(ctx, []string{"q"}, id.NewWorkerID())
		if err != nil {
			t.Fatalf("ClaimJob: %v", err)
		}
		if j != nil {
			if j.ID != claimed.ID || j.RetryCount != 1 {
				t.Fatalf("claimed %+v, want the retried job", j)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("retry never became claimable")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func testClearQueues(t *testing.T, s store.Store) {
	ctx := context.Background()
	j1 := NewJob("x", "q1", "")
	j2 := NewJob("x", "q2", "")
	j3 := NewJob("x", "q3", "")
	mustEnqueue(t, s, j1, j2, j3)

	cleared, err := s.ClearQueues(ctx, []string{"q2", "q3"})
	if err != nil {
		t.Fatalf("ClearQueues: %v", err)
	}
	if !equal(cleared, []string{"q2", "q3"}) {
		t.Errorf("cleared = %v", cleared)
	}

	left, _ := s.ListJobs(ctx, nil)
	if !equal(ids(left), []string{j1.ID.String()}) || left[0].Queue != "q1" {
		t.Fatalf("remaining = %v", ids(left))
	}
	if _, err := s.GetJob(ctx, j2.ID); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("cleared job still visible: %v", err)
	}
}

func testClearAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s, NewJob("x", "b", ""), NewJob("x", "a", ""), NewJob("x", "", ""))

	cleared, err := s.ClearQueues(ctx, nil)
	if err != nil {
		t.Fatalf("ClearQueues: %v", err)
	}
	if len(cleared) != 3 {
		t.Errorf("cleared = %v, want 3 queues", cleared)
	}
	if queues, _ := s.ListQueues(ctx); len(queues) != 0 {
		t.Errorf("queues left: %v", queues)
	}
}

func testHeartbeatAndReap(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("x", "q", "")
	mustEnqueue(t, s, j)
	wid := id.NewWorkerID()
	if _, err := s.ClaimJob(ctx, []string{"q"}, wid); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	if err := s.HeartbeatJob(ctx, j.ID, wid); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("HeartbeatJob(other worker) = %v, want ErrJobNotFound", err)
	}

	stale, err := s.ReapStaleJobs(ctx, time.Hour)
	if err != nil || len(stale) != 0 {
		t.Fatalf("ReapStaleJobs(1h) = %v, %v", stale, err)
	}

	time.Sleep(20 * time.Millisecond)
	stale, err = s.ReapStaleJobs(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != j.ID {
		t.Fatalf("ReapStaleJobs = %v, want [%s]", ids(stale), j.ID)
	}
}

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := &dlq.Entry{ID: id.NewFailureID(), JobID: id.NewJobID(), JobName: "a", Queue: "q1", Error: "e1", Codec: job.CodecJSON, FailedAt: now.Add(-time.Hour), EnqueuedAt: now.Add(-2 * time.Hour)}
	newer := &dlq.Entry{ID: id.NewFailureID(), JobID: id.NewJobID(), JobName: "b", Queue: "q2", Error: "e2", Codec: job.CodecJSON, FailedAt: now, EnqueuedAt: now}
	for _, e := range []*dlq.Entry{newer, older} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	all, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(all) != 2 || all[0].ID != older.ID {
		t.Fatalf("ListDLQ = %v, %v", all, err)
	}
	q2, _ := s.ListDLQ(ctx, dlq.ListOpts{Queues: []string{"q2"}})
	if len(q2) != 1 || q2[0].ID != newer.ID {
		t.Fatalf("ListDLQ(q2) = %v", q2)
	}
	if one, _ := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1}); len(one) != 1 {
		t.Fatalf("ListDLQ(limit 1) = %d entries", len(one))
	}

	got, err := s.GetDLQ(ctx, newer.ID)
	if err != nil || got.Error != "e2" || got.JobName != "b" {
		t.Fatalf("GetDLQ = %+v, %v", got, err)
	}
	if _, err := s.GetDLQ(ctx, id.NewFailureID()); !errors.Is(err, backlog.ErrDLQNotFound) {
		t.Errorf("GetDLQ(unknown) = %v", err)
	}

	if err := s.MarkRequeued(ctx, newer.ID, now); err != nil {
		t.Fatalf("MarkRequeued: %v", err)
	}
	if got, _ := s.GetDLQ(ctx, newer.ID); !got.Requeued() {
		t.Error("entry should be marked requeued")
	}

	n, err := s.PurgeDLQ(ctx, now.Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PurgeDLQ = %d, %v", n, err)
	}
	if c, _ := s.CountDLQ(ctx); c != 1 {
		t.Errorf("CountDLQ = %d, want 1", c)
	}
}
