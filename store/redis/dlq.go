package redis

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/id"
)

// PushDLQ stores the entry hash and indexes it by failure time.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.dlq(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, s.keys.dlqIndex(), goredis.Z{
		Score:  float64(entry.FailedAt.UnixMilli()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("backlog/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRange(ctx, s.keys.dlqIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: list dlq: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.dlq(eID))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("backlog/redis: list dlq: %w", err)
		}
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		e, err := mapToDLQ(vals)
		if err != nil {
			return nil, err
		}
		if len(opts.Queues) > 0 && !slices.Contains(opts.Queues, e.Queue) {
			continue
		}
		entries = append(entries, e)
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.FailureID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.dlq(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, backlog.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// MarkRequeued stamps requeued_at on an entry.
func (s *Store) MarkRequeued(ctx context.Context, entryID id.FailureID, at time.Time) error {
	key := s.keys.dlq(entryID.String())
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("backlog/redis: mark requeued: %w", err)
	}
	if n == 0 {
		return backlog.ErrDLQNotFound
	}
	if err := s.client.HSet(ctx, key, "requeued_at", at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("backlog/redis: mark requeued: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.dlqIndex(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("backlog/redis: purge dlq: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, s.keys.dlq(eID))
		pipe.ZRem(ctx, s.keys.dlqIndex(), eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("backlog/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.keys.dlqIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("backlog/redis: count dlq: %w", err)
	}
	return n, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":          e.ID.String(),
		"job_id":      e.JobID.String(),
		"job_name":    e.JobName,
		"queue":       e.Queue,
		"title":       e.Title,
		"payload":     string(e.Payload),
		"codec":       e.Codec,
		"error":       e.Error,
		"retry_count": strconv.Itoa(e.RetryCount),
		"max_retries": strconv.Itoa(e.MaxRetries),
		"enqueued_at": e.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		"failed_at":   e.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.RequeuedAt != nil {
		m["requeued_at"] = e.RequeuedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseFailureID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: parse dlq id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: parse dlq job id: %w", err)
	}

	e := &dlq.Entry{
		ID:      eID,
		JobID:   jID,
		JobName: m["job_name"],
		Queue:   m["queue"],
		Title:   m["title"],
		Codec:   m["codec"],
		Error:   m["error"],
	}
	if p := m["payload"]; p != "" {
		e.Payload = []byte(p)
	}
	e.RetryCount, _ = strconv.Atoi(m["retry_count"])
	e.MaxRetries, _ = strconv.Atoi(m["max_retries"])
	e.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, m["enqueued_at"])
	e.FailedAt, _ = time.Parse(time.RFC3339Nano, m["failed_at"])
	e.RequeuedAt = parseTimePtr(m["requeued_at"])
	return e, nil
}
