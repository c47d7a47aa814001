package memory_test

import (
	"context"
	"testing"

	"github.com/xraph/backlog/internal/storetest"
	"github.com/xraph/backlog/store"
	"github.com/xraph/backlog/store/memory"
)

var _ store.Store = (*memory.Store)(nil)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestLifecycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", s.Close},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

func TestEnqueue_CopiesRecord(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := storetest.NewJob("x", "q", "before")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	j.Title = "after"
	j.Payload[0] = 'x'

	got, _ := s.GetJob(ctx, j.ID)
	if got.Title != "before" || got.Payload[0] != '{' {
		t.Fatalf("store shares memory with caller: %+v", got)
	}
}
