package engine_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store/memory"
	"github.com/xraph/backlog/worker"
)

// ──────────────────────────────────────────────────
// Test payloads
// ──────────────────────────────────────────────────

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{
		engine.WithLogger(slog.New(slog.DiscardHandler)),
		engine.WithBackoff(backoff.None),
	}, opts...)
	eng, err := engine.New(memory.New(), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.Register(eng, job.NewDefinition("send_email", func(context.Context, emailPayload) error {
		return nil
	}))
	return eng
}

func enqueue(t *testing.T, eng *engine.Engine, q, title string) *job.Job {
	t.Helper()
	j, err := engine.Enqueue(context.Background(), eng, "send_email",
		emailPayload{To: "a@example.com"}, job.WithQueue(q), job.WithTitle(title))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

func ids(jobs []*job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID.String()
	}
	return out
}

func TestNew_NilStore(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, backlog.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

func TestEnqueue_Defaults(t *testing.T) {
	eng := newEngine(t)
	before := time.Now().UTC().Truncate(time.Second)

	j := enqueue(t, eng, "", "")

	if j.Queue != "default" {
		t.Errorf("Queue = %q, want default", j.Queue)
	}
	if j.State != job.StateQueued {
		t.Errorf("State = %q, want queued", j.State)
	}
	if j.ID.IsNil() {
		t.Error("expected a fresh ID")
	}
	if j.EnqueuedAt.Before(before) || j.EnqueuedAt.Nanosecond() != 0 {
		t.Errorf("EnqueuedAt = %v, want second precision at or after %v", j.EnqueuedAt, before)
	}
	if j.EnqueuedAt.Location() != time.UTC {
		t.Errorf("EnqueuedAt location = %v, want UTC", j.EnqueuedAt.Location())
	}
}

func TestEnqueue_UnknownJob(t *testing.T) {
	eng := newEngine(t)

	_, err := engine.Enqueue(context.Background(), eng, "nope", struct{}{})
	var serr *backlog.SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *SerializationError", err)
	}
	if !errors.Is(err, backlog.ErrSerialization) || !errors.Is(err, backlog.ErrUnknownJob) {
		t.Errorf("err = %v does not match ErrSerialization and ErrUnknownJob", err)
	}

	jobs, _ := eng.List(context.Background())
	if len(jobs) != 0 {
		t.Errorf("jobs = %d, want 0", len(jobs))
	}
}

func TestEnqueue_UnencodableArgs(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("takes_chan", func(context.Context, chan int) error { return nil }))

	_, err := engine.Enqueue(context.Background(), eng, "takes_chan", make(chan int))
	if !errors.Is(err, backlog.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
	jobs, _ := eng.List(context.Background())
	if len(jobs) != 0 {
		t.Errorf("jobs = %d, want 0 after failed enqueue", len(jobs))
	}
}

func TestEnqueue_UnknownCodec(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.EnqueueRaw(context.Background(), "send_email", nil, job.WithCodec("xml"))
	if !errors.Is(err, backlog.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
}

func TestEnqueue_DefinitionDefaults(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("report",
		func(context.Context, struct{}) error { return nil },
		job.WithQueue("reports"), job.WithMaxRetries(4),
	))

	j, err := engine.Enqueue(context.Background(), eng, "report", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Queue != "reports" || j.MaxRetries != 4 {
		t.Errorf("queue/retries = %q/%d, want reports/4", j.Queue, j.MaxRetries)
	}

	// Call-site options win.
	j, err = engine.Enqueue(context.Background(), eng, "report", struct{}{}, job.WithQueue("urgent"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Queue != "urgent" {
		t.Errorf("queue = %q, want urgent", j.Queue)
	}
}

func TestEnqueue_MsgpackRoundTrip(t *testing.T) {
	eng := newEngine(t)

	var got atomic.Value
	engine.Register(eng, job.NewDefinition("packed", func(_ context.Context, p emailPayload) error {
		got.Store(p)
		return nil
	}, job.WithCodec(job.CodecMsgpack)))

	want := emailPayload{To: "x@example.com", Subject: "hi"}
	if _, err := engine.Enqueue(context.Background(), eng, "packed", want); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := eng.NewPool().Run(context.Background(), true); err != nil {
		t.Fatalf("run: %v", err)
	}
	if p, _ := got.Load().(emailPayload); p != want {
		t.Errorf("payload = %+v, want %+v", p, want)
	}
}

// ──────────────────────────────────────────────────
// Introspection
// ──────────────────────────────────────────────────

func TestList_FIFO(t *testing.T) {
	for _, n := range []int{0, 1, 2, 10} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			eng := newEngine(t)
			var want []string
			for range n {
				want = append(want, enqueue(t, eng, "q", "").ID.String())
			}

			jobs, err := eng.List(context.Background(), "q")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			got := ids(jobs)
			if len(got) != len(want) {
				t.Fatalf("listed %d jobs, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("position %d = %s, want %s", i, got[i], want[i])
				}
			}
		})
	}
}

func TestShow_AfterEnqueue(t *testing.T) {
	eng := newEngine(t)
	j := enqueue(t, eng, "mail", "weekly digest")

	got, err := eng.Show(context.Background(), j.ID.String())
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if got.ID != j.ID || got.Queue != "mail" || got.Title != "weekly digest" {
		t.Errorf("show = %s/%s/%q, want %s/mail/\"weekly digest\"", got.ID, got.Queue, got.Title, j.ID)
	}
}

func TestShow_NotFound(t *testing.T) {
	eng := newEngine(t)
	for _, in := range []string{"", "garbage", "job_01h2xcejqtf2nbrexx3vqjhp41"} {
		if _, err := eng.Show(context.Background(), in); !errors.Is(err, backlog.ErrJobNotFound) {
			t.Errorf("Show(%q) err = %v, want ErrJobNotFound", in, err)
		}
	}
}

func TestCancel_Twice(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	j := enqueue(t, eng, "", "")

	if _, err := eng.Cancel(ctx, j.ID.String()); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := eng.Show(ctx, j.ID.String()); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("show after cancel: err = %v, want ErrJobNotFound", err)
	}
	if _, err := eng.Cancel(ctx, j.ID.String()); !errors.Is(err, backlog.ErrJobNotFound) {
		t.Errorf("second cancel: err = %v, want ErrJobNotFound", err)
	}
}

func TestCancel_LeavesOthers(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	j1 := enqueue(t, eng, "", "")
	j2 := enqueue(t, eng, "", "")

	if _, err := eng.Cancel(ctx, j1.ID.String()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	jobs, err := eng.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != j2.ID {
		t.Fatalf("list = %v, want only %s", ids(jobs), j2.ID)
	}
}

func TestClear_Exact(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	j1 := enqueue(t, eng, "q1", "")
	enqueue(t, eng, "q2", "")
	enqueue(t, eng, "q3", "")

	cleared, err := eng.Clear(ctx, "q2", "q3")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(cleared) != 2 || cleared[0] != "q2" || cleared[1] != "q3" {
		t.Errorf("cleared = %v, want [q2 q3]", cleared)
	}

	jobs, err := eng.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != j1.ID || jobs[0].Queue != "q1" {
		t.Fatalf("list = %v, want only %s in q1", ids(jobs), j1.ID)
	}
}

func TestClear_All(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	enqueue(t, eng, "a", "")
	enqueue(t, eng, "b", "")

	cleared, err := eng.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(cleared) != 2 {
		t.Errorf("cleared = %v, want [a b]", cleared)
	}
	qs, err := eng.Queues(ctx)
	if err != nil {
		t.Fatalf("queues: %v", err)
	}
	if len(qs) != 0 {
		t.Errorf("queues left = %d, want 0", len(qs))
	}
}

func TestQueues_SortedNonEmpty(t *testing.T) {
	eng := newEngine(t)
	enqueue(t, eng, "zeta", "")
	enqueue(t, eng, "alpha", "")
	enqueue(t, eng, "alpha", "")

	qs, err := eng.Queues(context.Background())
	if err != nil {
		t.Fatalf("queues: %v", err)
	}
	if len(qs) != 2 || qs[0].Name() != "alpha" || qs[1].Name() != "zeta" {
		t.Fatalf("queues = %v", qs)
	}
	n, err := qs[0].Len(context.Background())
	if err != nil || n != 2 {
		t.Errorf("alpha len = %d (%v), want 2", n, err)
	}
}

// ──────────────────────────────────────────────────
// Workers and failures
// ──────────────────────────────────────────────────

func TestBurstPool_TwoQueues(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	enqueue(t, eng, "q1", "")
	enqueue(t, eng, "q2", "")

	done := make(chan error, 1)
	go func() {
		done <- eng.NewPool(worker.WithPoolQueues([]string{"q1", "q2"})).Run(ctx, true)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("burst pool did not terminate")
	}

	jobs, err := eng.List(ctx, "q1", "q2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("jobs left = %d, want 0", len(jobs))
	}
}

func TestFailingJob_RecordedAndRequeued(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	var runs atomic.Int32
	engine.Register(eng, job.NewDefinition("flaky", func(context.Context, struct{}) error {
		runs.Add(1)
		if fail.Load() {
			panic("broken")
		}
		return nil
	}))

	if _, err := engine.Enqueue(ctx, eng, "flaky", struct{}{}, job.WithTitle("nightly")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := eng.NewPool().Run(ctx, true); err != nil {
		t.Fatalf("run returned job failure: %v", err)
	}

	jobs, _ := eng.List(ctx)
	if len(jobs) != 0 {
		t.Fatalf("jobs left = %d, want 0", len(jobs))
	}

	failed, err := eng.Failed(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Title != "nightly" {
		t.Fatalf("failures = %+v", failed)
	}

	fail.Store(false)
	j, err := eng.Requeue(ctx, failed[0].ID.String())
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if j.Title != "nightly" || j.Name != "flaky" {
		t.Errorf("requeued job = %+v", j)
	}
	if err := eng.NewPool().Run(ctx, true); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := runs.Load(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}

	entry, err := eng.DLQService().Store().GetDLQ(ctx, failed[0].ID)
	if err != nil {
		t.Fatalf("get dlq: %v", err)
	}
	if !entry.Requeued() {
		t.Error("entry not marked requeued")
	}
}

func TestRequeue_Unknown(t *testing.T) {
	eng := newEngine(t)
	for _, in := range []string{"bogus", "fail_01h2xcejqtf2nbrexx3vqjhp41"} {
		if _, err := eng.Requeue(context.Background(), in); !errors.Is(err, backlog.ErrDLQNotFound) {
			t.Errorf("Requeue(%q) err = %v, want ErrDLQNotFound", in, err)
		}
	}
}

func TestBuiltinTestJob(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	if _, err := eng.EnqueueRaw(ctx, engine.TestJobName, nil, job.WithQueue("smoke")); err != nil {
		t.Fatalf("enqueue test job: %v", err)
	}
	if err := eng.NewPool(worker.WithPoolQueues([]string{"smoke"})).Run(ctx, true); err != nil {
		t.Fatalf("run: %v", err)
	}
	n, err := eng.DLQService().Store().CountDLQ(ctx)
	if err != nil || n != 0 {
		t.Errorf("dlq = %d (%v), want 0", n, err)
	}
}

func TestMeterProvider_CountsLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	eng := newEngine(t, engine.WithMeterProvider(mp))
	ctx := context.Background()

	enqueue(t, eng, "", "")
	if err := eng.NewPool().Run(ctx, true); err != nil {
		t.Fatalf("run: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, name := range []string{"backlog.job.enqueued", "backlog.job.finished", "backlog.job.duration"} {
		if !found[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}
