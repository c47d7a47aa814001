package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a Bun ORM implementation of store.Store using the PostgreSQL
// dialect.
type Store struct {
	db     *bun.DB
	owned  bool
	queues queue.Prefixer
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPrefix sets the namespace stored in front of every queue name.
// Default "backlog:".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.queues = queue.Prefixer(prefix)
	}
}

// New creates a store over db. The caller owns the db lifecycle; the
// Store will not close it on Close.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		queues: queue.Prefixer(queue.DefaultPrefix),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn with pgdriver. The returned store owns the
// connection and closes it on Close.
func Open(dsn string, opts ...Option) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	s := New(bun.NewDB(sqldb, pgdialect.New()), opts...)
	s.owned = true
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates the jobs and failure tables and their indexes. Every
// statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range []any{(*jobModel)(nil), (*dlqModel)(nil)} {
			if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("backlog/bun: create table: %w", err)
			}
		}

		indexes := []*bun.CreateIndexQuery{
			tx.NewCreateIndex().Model((*jobModel)(nil)).IfNotExists().
				Index("idx_backlog_jobs_claim").Column("queue", "seq").
				Where("state = 'queued'"),
			tx.NewCreateIndex().Model((*jobModel)(nil)).IfNotExists().
				Index("idx_backlog_jobs_heartbeat").Column("heartbeat_at").
				Where("state = 'running'"),
			tx.NewCreateIndex().Model((*dlqModel)(nil)).IfNotExists().
				Index("idx_backlog_dlq_failed_at").Column("failed_at"),
		}
		for _, idx := range indexes {
			if _, err := idx.Exec(ctx); err != nil {
				return fmt.Errorf("backlog/bun: create index: %w", err)
			}
		}

		s.logger.Debug("schema ready", slog.String("driver", "bun"))
		return nil
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// stored maps display queue names to their stored form.
func (s *Store) stored(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = s.queues.Apply(n)
	}
	return out
}
