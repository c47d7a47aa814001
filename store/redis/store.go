package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// Compile-time interface checks.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNamespace sets the key namespace. Default "backlog:".
func WithNamespace(ns string) Option {
	return func(s *Store) { s.keys = newKeys(ns) }
}

// WithPromoteBatch caps how many due delayed jobs one claim moves into
// each queue. Jobs past the cap are promoted by later claims. Default 64.
func WithPromoteBatch(n int) Option {
	return func(s *Store) { s.promoteBatch = n }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client       goredis.UniversalClient
	owned        bool
	keys         keys
	promoteBatch int
	logger       *slog.Logger
}

// New creates a store over an existing client. The caller owns the client
// lifecycle; Close does not close it.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:       client,
		keys:         newKeys(queue.DefaultPrefix),
		promoteBatch: 64,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open parses a redis:// URL, connects, and returns a store that owns the
// client.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: parse url: %w", err)
	}
	client := goredis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("backlog/redis: ping: %w", err)
	}
	s := New(client, opts...)
	s.owned = true
	return s, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate loads the Lua scripts so the first calls can use EVALSHA.
func (s *Store) Migrate(ctx context.Context) error {
	for _, sc := range []*goredis.Script{
		enqueueScript, claimScript, cancelScript, deleteScript,
		requeueScript, clearScript, heartbeatScript,
	} {
		if err := sc.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("backlog/redis: load script: %w", err)
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
