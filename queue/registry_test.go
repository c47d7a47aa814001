package queue

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/xraph/backlog/job"
)

type fakeSource struct {
	counts map[string]int64
	err    error
}

func (f *fakeSource) ListQueues(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var names []string
	for n, c := range f.counts {
		if c > 0 {
			names = append(names, n)
		}
	}
	return names, nil
}

func (f *fakeSource) CountJobs(_ context.Context, q string) (int64, error) {
	return f.counts[q], f.err
}

func (f *fakeSource) ClearQueues(_ context.Context, qs []string) ([]string, error) {
	for _, q := range qs {
		delete(f.counts, q)
	}
	return qs, nil
}

func (f *fakeSource) ListJobs(_ context.Context, qs []string) ([]*job.Job, error) {
	var out []*job.Job
	for _, q := range qs {
		for range f.counts[q] {
			out = append(out, &job.Job{Queue: q})
		}
	}
	return out, nil
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", DefaultName},
		{"default", "default"},
		{"emails", "emails"},
		{" ", " "},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"b", "", "a", "default", "b"})
	want := []string{"b", "default", "a"}
	if !slices.Equal(got, want) {
		t.Fatalf("NormalizeAll = %v, want %v", got, want)
	}
}

func TestPrefixer(t *testing.T) {
	p := Prefixer(DefaultPrefix)
	if got := p.Apply(""); got != "backlog:default" {
		t.Errorf("Apply(\"\") = %q", got)
	}
	if got := p.Apply("emails"); got != "backlog:emails" {
		t.Errorf("Apply(emails) = %q", got)
	}
	if got := p.Strip("backlog:emails"); got != "emails" {
		t.Errorf("Strip = %q", got)
	}
	if got := p.Strip("emails"); got != "emails" {
		t.Errorf("Strip without prefix = %q", got)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(&fakeSource{counts: map[string]int64{}})
	if got := r.Resolve("").Name(); got != DefaultName {
		t.Errorf("Resolve(\"\") = %q, want %q", got, DefaultName)
	}
	if got := r.Resolve("q1").Name(); got != "q1" {
		t.Errorf("Resolve(q1) = %q", got)
	}
}

func TestRegistry_GetAndList(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{counts: map[string]int64{"q2": 1, "q1": 2, "empty": 0}}
	r := NewRegistry(src)

	q, ok, err := r.Get(ctx, "q1")
	if err != nil || !ok {
		t.Fatalf("Get(q1) = %v, %v", ok, err)
	}
	if n, _ := q.Len(ctx); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
	jobs, _ := q.Jobs(ctx)
	if len(jobs) != 2 {
		t.Errorf("Jobs = %d, want 2", len(jobs))
	}

	if _, ok, _ := r.Get(ctx, "empty"); ok {
		t.Error("empty queue should report no work")
	}

	list, err := r.ListNonEmpty(ctx)
	if err != nil {
		t.Fatalf("ListNonEmpty: %v", err)
	}
	if len(list) != 2 || list[0].Name() != "q1" || list[1].Name() != "q2" {
		t.Fatalf("ListNonEmpty = %v", list)
	}

	if err := list[0].Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := list[0].Len(ctx); n != 0 {
		t.Errorf("Len after Clear = %d", n)
	}
}

func TestRegistry_SourceError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(&fakeSource{err: boom})
	if _, err := r.ListNonEmpty(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, _, err := r.Get(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
