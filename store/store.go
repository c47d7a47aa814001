// Package store defines the aggregate persistence interface. The job and
// dlq packages each define their own store contract; the composite Store
// combines them with lifecycle methods. Backends: Memory, Redis, Postgres (pgx), Bun and MongoDB.
package store

import (
	"context"

	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/job"
)

// Store is the aggregate persistence interface implemented by every
// backend.
type Store interface {
	job.Store
	dlq.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the store's connections.
	Close() error
}
