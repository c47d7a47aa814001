//go:build integration

package redis_test

import (
	"context"
	"log/slog"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/backlog/internal/storetest"
	"github.com/xraph/backlog/store"
	redisstore "github.com/xraph/backlog/store/redis"
)

var _ store.Store = (*redisstore.Store)(nil)

// setupClient starts a Redis container and returns a connected client.
func setupClient(t *testing.T) goredis.UniversalClient {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore(t *testing.T) {
	client := setupClient(t)

	// Each subtest gets its own namespace on the shared server.
	storetest.Run(t, func(t *testing.T) store.Store {
		s := redisstore.New(client,
			redisstore.WithNamespace("backlog:"+t.Name()+":"),
			redisstore.WithLogger(slog.Default()),
		)
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return s
	})
}

func TestOpen(t *testing.T) {
	client := setupClient(t)
	addr := client.(*goredis.Client).Options().Addr

	ctx := context.Background()
	s, err := redisstore.Open(ctx, "redis://"+addr+"/0")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// The caller's client is untouched by closing an owned store.
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("shared client ping: %v", err)
	}
}

func TestNamespaceStrippedFromQueueNames(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	s := redisstore.New(client, redisstore.WithNamespace("app:"))
	j := storetest.NewJob("send", "mail", "")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	names, err := s.ListQueues(ctx)
	if err != nil {
		t.Fatalf("list queues: %v", err)
	}
	if len(names) != 1 || names[0] != "mail" {
		t.Fatalf("queues = %v, want [mail]", names)
	}

	keys, err := client.Keys(ctx, "app:queue:*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "app:queue:mail" {
		t.Fatalf("queue keys = %v, want [app:queue:mail]", keys)
	}
}
