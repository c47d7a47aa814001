// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL.
//
// Jobs live in one table ordered by a BIGSERIAL sequence. A claim is a
// single UPDATE over a SELECT ... FOR UPDATE SKIP LOCKED, so concurrent
// workers never receive the same job and never block on one another.
// A retried job takes a fresh sequence value, which puts it at the tail
// of its queue. Schema changes ship as embedded SQL files applied by
// Migrate.
package postgres
