// Package mongo implements store.Store on MongoDB using the official
// driver.
//
// Jobs live in one collection ordered by a seq counter allocated from a
// counters collection, so FIFO order survives requeues. Claims are single
// FindOneAndUpdate calls tried queue by queue in priority order.
//
//	s, err := mongo.Open(ctx, "mongodb://localhost:27017", mongo.WithDatabase("jobs"))
//	if err != nil { ... }
//	defer s.Close()
//	_ = s.Migrate(ctx)
//
// Use New to wrap a *mongo.Database whose client you manage yourself.
package mongo
