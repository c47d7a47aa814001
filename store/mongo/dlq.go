package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
)

// PushDLQ records a failed job.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.db.Collection(colDLQ).InsertOne(ctx, toDLQModel(entry)); err != nil {
		return fmt.Errorf("backlog/mongo: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	filter := bson.M{}
	if len(opts.Queues) > 0 {
		filter["queue"] = bson.M{"$in": opts.Queues}
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "failed_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.db.Collection(colDLQ).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: list dlq: %w", err)
	}
	defer cursor.Close(ctx)

	var models []dlqModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("backlog/mongo: list dlq decode: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, err := fromDLQModel(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.FailureID) (*dlq.Entry, error) {
	var m dlqModel
	err := s.db.Collection(colDLQ).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, backlog.ErrDLQNotFound
		}
		return nil, fmt.Errorf("backlog/mongo: get dlq: %w", err)
	}
	return fromDLQModel(&m)
}

// MarkRequeued stamps requeued_at on an entry.
func (s *Store) MarkRequeued(ctx context.Context, entryID id.FailureID, at time.Time) error {
	res, err := s.db.Collection(colDLQ).UpdateOne(ctx,
		bson.M{"_id": entryID.String()},
		bson.M{"$set": bson.M{"requeued_at": at}},
	)
	if err != nil {
		return fmt.Errorf("backlog/mongo: mark requeued: %w", err)
	}
	if res.MatchedCount == 0 {
		return backlog.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colDLQ).DeleteMany(ctx, bson.M{"failed_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("backlog/mongo: purge dlq: %w", err)
	}
	return res.DeletedCount, nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(colDLQ).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("backlog/mongo: count dlq: %w", err)
	}
	return n, nil
}
