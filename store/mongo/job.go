package mongo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// EnqueueJob persists a new job at the tail of its queue.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}

	m := s.toJobModel(j)
	m.Seq = seq
	m.State = string(job.StateQueued)

	if _, err := s.db.Collection(colJobs).InsertOne(ctx, m); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return backlog.ErrJobAlreadyExists
		}
		return fmt.Errorf("backlog/mongo: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob marks the first due job of the first non-empty queue as
// running. Each FindOneAndUpdate is atomic, so two workers never claim
// the same document.
func (s *Store) ClaimJob(ctx context.Context, queues []string, workerID id.WorkerID) (*job.Job, error) {
	t := now()
	col := s.db.Collection(colJobs)

	update := bson.M{"$set": bson.M{
		"state":        string(job.StateRunning),
		"worker_id":    workerID.String(),
		"started_at":   t,
		"heartbeat_at": t,
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "seq", Value: 1}})

	for _, q := range s.stored(queue.NormalizeAll(queues)) {
		filter := bson.M{
			"state":  string(job.StateQueued),
			"queue":  q,
			"run_at": bson.M{"$lte": t},
		}

		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				continue
			}
			return nil, fmt.Errorf("backlog/mongo: claim job: %w", err)
		}
		return s.fromJobModel(&m)
	}
	return nil, nil //nolint:nilnil // empty queues are not an error
}

// GetJob retrieves a queued or running job.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, fmt.Errorf("backlog/mongo: get job: %w", err)
	}
	return s.fromJobModel(&m)
}

// CancelJob deletes a queued job and returns it.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndDelete(ctx, bson.M{
		"_id":   jobID.String(),
		"state": string(job.StateQueued),
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, backlog.ErrJobNotFound
		}
		return nil, fmt.Errorf("backlog/mongo: cancel job: %w", err)
	}
	return s.fromJobModel(&m)
}

// DeleteJob removes a job in any state.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("backlog/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// RequeueJob moves a running job to the tail of its queue.
func (s *Store) RequeueJob(ctx context.Context, j *job.Job) error {
	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}

	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{"_id": j.ID.String(), "state": string(job.StateRunning)},
		bson.M{
			"$set": bson.M{
				"state":       string(job.StateQueued),
				"seq":         seq,
				"retry_count": j.RetryCount,
				"last_error":  j.LastError,
				"run_at":      j.RunAt,
				"worker_id":   "",
			},
			"$unset": bson.M{"started_at": "", "heartbeat_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("backlog/mongo: requeue job: %w", err)
	}
	if res.MatchedCount == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// ListJobs returns queued jobs ordered by queue name then FIFO.
func (s *Store) ListJobs(ctx context.Context, queues []string) ([]*job.Job, error) {
	filter := bson.M{"state": string(job.StateQueued)}
	if len(queues) > 0 {
		filter["queue"] = bson.M{"$in": s.stored(queue.NormalizeAll(queues))}
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "queue", Value: 1},
		{Key: "seq", Value: 1},
	})
	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("backlog/mongo: list jobs decode: %w", err)
	}
	return s.fromJobModels(models)
}

// ListQueues returns the names of non-empty queues, sorted.
func (s *Store) ListQueues(ctx context.Context) ([]string, error) {
	var stored []string
	err := s.db.Collection(colJobs).
		Distinct(ctx, "queue", bson.M{"state": string(job.StateQueued)}).
		Decode(&stored)
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: list queues: %w", err)
	}

	names := make([]string, len(stored))
	for i, q := range stored {
		names[i] = s.queues.Strip(q)
	}
	sort.Strings(names)
	return names, nil
}

// ClearQueues deletes queued jobs in the given queues, or in every
// non-empty queue.
func (s *Store) ClearQueues(ctx context.Context, queues []string) ([]string, error) {
	names := queue.NormalizeAll(queues)
	if len(names) == 0 {
		var err error
		if names, err = s.ListQueues(ctx); err != nil {
			return nil, err
		}
	}
	if len(names) == 0 {
		return names, nil
	}

	_, err := s.db.Collection(colJobs).DeleteMany(ctx, bson.M{
		"state": string(job.StateQueued),
		"queue": bson.M{"$in": s.stored(names)},
	})
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: clear queues: %w", err)
	}
	return names, nil
}

// CountJobs returns the number of queued jobs in q.
func (s *Store) CountJobs(ctx context.Context, q string) (int64, error) {
	n, err := s.db.Collection(colJobs).CountDocuments(ctx, bson.M{
		"state": string(job.StateQueued),
		"queue": s.queues.Apply(q),
	})
	if err != nil {
		return 0, fmt.Errorf("backlog/mongo: count jobs: %w", err)
	}
	return n, nil
}

// HeartbeatJob refreshes the heartbeat of a job running on workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id":       jobID.String(),
			"state":     string(job.StateRunning),
			"worker_id": workerID.String(),
		},
		bson.M{"$set": bson.M{"heartbeat_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("backlog/mongo: heartbeat job: %w", err)
	}
	if res.MatchedCount == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	filter := bson.M{
		"state":        string(job.StateRunning),
		"heartbeat_at": bson.M{"$lt": now().Add(-threshold)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "heartbeat_at", Value: 1}})

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("backlog/mongo: reap stale jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("backlog/mongo: reap stale jobs decode: %w", err)
	}
	return s.fromJobModels(models)
}
