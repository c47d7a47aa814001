package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate runs all embedded SQL migration files in filename order. Each
// applied file is recorded in backlog_migrations and never run twice.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS backlog_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("backlog/postgres: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("backlog/postgres: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if err := s.applyMigration(ctx, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, name string) error {
	var applied bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM backlog_migrations WHERE filename = $1)`,
		name,
	).Scan(&applied)
	if err != nil {
		return fmt.Errorf("backlog/postgres: check migration %s: %w", name, err)
	}
	if applied {
		return nil
	}

	data, err := fs.ReadFile(migrationsFS, "migrations/"+name)
	if err != nil {
		return fmt.Errorf("backlog/postgres: read migration %s: %w", name, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("backlog/postgres: begin migration %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(data)); err != nil {
		return fmt.Errorf("backlog/postgres: execute migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO backlog_migrations (filename) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("backlog/postgres: record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("backlog/postgres: commit migration %s: %w", name, err)
	}

	s.logger.Info("applied migration", "file", name)
	return nil
}
