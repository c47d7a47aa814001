// Package bunstore implements store.Store using the Bun ORM with the
// PostgreSQL dialect. It shares its table layout with the pgx store, so
// either backend can serve the same database.
//
// Pass an existing *bun.DB to New and keep ownership of it, or let Open
// create and own one:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore
