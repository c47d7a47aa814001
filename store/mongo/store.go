package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// Collection names.
const (
	colJobs     = "backlog_jobs"
	colDLQ      = "backlog_dlq"
	colCounters = "backlog_counters"
)

// DefaultDatabase is used by Open when the store is not given one.
const DefaultDatabase = "backlog"

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db       *mongod.Database
	client   *mongod.Client // set when the store owns the connection
	database string
	queues   queue.Prefixer
	logger   *slog.Logger
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

// WithDatabase sets the database Open connects to. Ignored by New.
func WithDatabase(name string) Option {
	return func(s *Store) {
		s.database = name
	}
}

// New creates a store over db. The caller owns the client lifecycle; the
// Store will not disconnect it on Close.
func New(db *mongod.Database, opts ...Option) *Store {
	s := newStore(opts)
	s.db = db
	return s
}

// Open connects to uri and pings the server. The returned store owns the
// client and disconnects it on Close.
func Open(ctx context.Context, uri string, opts ...Option) (*Store, error) {
	s := newStore(opts)

	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("backlog/mongo: ping: %w", err)
	}

	s.client = client
	s.db = client.Database(s.database)
	return s, nil
}

func newStore(opts []Option) *Store {
	s := &Store{
		database: DefaultDatabase,
		queues:   queue.Prefixer(queue.DefaultPrefix),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the indexes. CreateMany is a no-op for indexes that
// already exist.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("backlog/mongo: migrate %s indexes: %w", col, err)
		}
	}
	s.logger.Debug("indexes ready", slog.String("database", s.db.Name()))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client if the store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ── helpers ──────────────────────────────────────────────────────

func now() time.Time {
	return time.Now().UTC()
}

// nextSeq allocates the next position in the global FIFO order.
func (s *Store) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": "job_seq"},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("backlog/mongo: next seq: %w", err)
	}
	return counter.Value, nil
}

// stored maps display queue names to their stored form.
func (s *Store) stored(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = s.queues.Apply(n)
	}
	return out
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Claim and list order.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "queue", Value: 1},
				{Key: "seq", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "heartbeat_at", Value: 1},
			}},
		},
		colDLQ: {
			{Keys: bson.D{
				{Key: "failed_at", Value: 1},
				{Key: "_id", Value: 1},
			}},
			{Keys: bson.D{{Key: "queue", Value: 1}}},
		},
	}
}
