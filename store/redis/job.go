package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// EnqueueJob stores the job hash and appends its ID to the queue zset, or
// to the delayed zset when its run_at is still in the future.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	q := queue.Normalize(j.Queue)
	qk, dk := s.keys.queue(q), s.keys.waiting(q)

	cp := j.Clone()
	cp.Queue = q
	cp.State = job.StateQueued

	runAt := ""
	if cp.RunAt.After(time.Now()) {
		runAt = strconv.FormatInt(cp.RunAt.UnixMilli(), 10)
	}

	argv := []any{jID, runAt}
	for k, v := range jobToMap(cp) {
		argv = append(argv, k, v)
	}
	argv = append(argv, "origin", qk, "delayed", dk)

	n, err := enqueueScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), qk, s.keys.queueSet(), s.keys.seq(), dk},
		argv...,
	).Int()
	if err != nil {
		return fmt.Errorf("backlog/redis: enqueue job: %w", err)
	}
	if n == 0 {
		return backlog.ErrJobAlreadyExists
	}
	return nil
}

// ClaimJob promotes due delayed jobs, then pops the head of the first
// non-empty queue.
func (s *Store) ClaimJob(ctx context.Context, queues []string, workerID id.WorkerID) (*job.Job, error) {
	names := queue.NormalizeAll(queues)
	if len(names) == 0 {
		return nil, nil //nolint:nilnil // nothing to claim from
	}
	keys := make([]string, 0, 2*len(names)+1)
	keys = append(keys, s.keys.running())
	for _, q := range names {
		keys = append(keys, s.keys.queue(q), s.keys.waiting(q))
	}

	now := time.Now().UTC()
	res, err := claimScript.Run(ctx, s.client, keys,
		now.UnixMilli(),
		s.keys.jobPrefix(),
		workerID.String(),
		now.Format(time.RFC3339Nano),
		s.promoteBatch,
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil //nolint:nilnil // empty queues are not an error
	}
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: claim job: %w", err)
	}
	return mapToJob(pairs(res))
}

// GetJob retrieves a queued or running job.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.job(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, backlog.ErrJobNotFound
	}
	return mapToJob(vals)
}

// CancelJob removes a queued job and returns it.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	jID := jobID.String()
	res, err := cancelScript.Run(ctx, s.client, []string{s.keys.job(jID)}, jID).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, backlog.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: cancel job: %w", err)
	}
	return mapToJob(pairs(res))
}

// DeleteJob removes a job in any state.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	n, err := deleteScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), s.keys.running()}, jID,
	).Int()
	if err != nil {
		return fmt.Errorf("backlog/redis: delete job: %w", err)
	}
	if n == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// RequeueJob moves a running job back to the tail of its queue, waiting in
// the delayed zset until its run_at.
func (s *Store) RequeueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	n, err := requeueScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), s.keys.running(), s.keys.seq(), s.keys.queueSet()},
		jID, j.RetryCount, j.LastError, j.RunAt.UnixMilli(), time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("backlog/redis: requeue job: %w", err)
	}
	if n == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// ListJobs returns queued jobs ordered by queue name then FIFO.
func (s *Store) ListJobs(ctx context.Context, queues []string) ([]*job.Job, error) {
	names, err := s.selectQueues(ctx, queues)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	var out []*job.Job
	for _, q := range names {
		pipe := s.client.TxPipeline()
		due := pipe.ZRange(ctx, s.keys.queue(q), 0, -1)
		waiting := pipe.ZRange(ctx, s.keys.waiting(q), 0, -1)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("backlog/redis: list jobs: %w", err)
		}
		jobs, seqs, err := s.loadJobs(ctx, append(due.Val(), waiting.Val()...))
		if err != nil {
			return nil, err
		}
		out = append(out, inSeqOrder(jobs, seqs)...)
	}
	return out, nil
}

// ListQueues returns the names of non-empty queues, sorted.
func (s *Store) ListQueues(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.keys.queueSet()).Result()
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: list queues: %w", err)
	}

	pipe := s.client.Pipeline()
	due := make([]*goredis.IntCmd, len(members))
	waiting := make([]*goredis.IntCmd, len(members))
	for i, k := range members {
		due[i] = pipe.ZCard(ctx, k)
		waiting[i] = pipe.ZCard(ctx, s.keys.waiting(s.keys.queueName(k)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("backlog/redis: list queues: %w", err)
	}

	names := make([]string, 0, len(members))
	for i, k := range members {
		if due[i].Val()+waiting[i].Val() > 0 {
			names = append(names, s.keys.queueName(k))
		}
	}
	slices.Sort(names)
	return names, nil
}

// ClearQueues empties the given queues, or every non-empty queue.
func (s *Store) ClearQueues(ctx context.Context, queues []string) ([]string, error) {
	names, err := s.selectQueues(ctx, queues)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return names, nil
	}
	keys := make([]string, 0, 2*len(names)+1)
	keys = append(keys, s.keys.queueSet())
	for _, q := range names {
		keys = append(keys, s.keys.queue(q), s.keys.waiting(q))
	}
	if err := clearScript.Run(ctx, s.client, keys, s.keys.jobPrefix()).Err(); err != nil {
		return nil, fmt.Errorf("backlog/redis: clear queues: %w", err)
	}
	return names, nil
}

// CountJobs returns the number of queued jobs in q, due or delayed.
func (s *Store) CountJobs(ctx context.Context, q string) (int64, error) {
	pipe := s.client.TxPipeline()
	due := pipe.ZCard(ctx, s.keys.queue(q))
	waiting := pipe.ZCard(ctx, s.keys.waiting(q))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("backlog/redis: count jobs: %w", err)
	}
	return due.Val() + waiting.Val(), nil
}

// HeartbeatJob refreshes the heartbeat of a job running on workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	n, err := heartbeatScript.Run(ctx, s.client,
		[]string{s.keys.job(jobID.String())},
		workerID.String(), time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("backlog/redis: heartbeat job: %w", err)
	}
	if n == 0 {
		return backlog.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.keys.running()).Result()
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: reap stale jobs: %w", err)
	}
	running, _, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range running {
		if j.State == job.StateRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	slices.SortFunc(stale, func(a, b *job.Job) int { return a.HeartbeatAt.Compare(*b.HeartbeatAt) })
	return stale, nil
}

// selectQueues normalizes names, or lists every non-empty queue when
// names is empty.
func (s *Store) selectQueues(ctx context.Context, names []string) ([]string, error) {
	if len(names) > 0 {
		return queue.NormalizeAll(names), nil
	}
	return s.ListQueues(ctx)
}

// loadJobs fetches job hashes in one pipeline, skipping IDs whose hash
// vanished between reads. seqs holds each job's insertion sequence.
func (s *Store) loadJobs(ctx context.Context, ids []string) (jobs []*job.Job, seqs []int64, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.job(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, nil, fmt.Errorf("backlog/redis: load jobs: %w", err)
	}

	jobs = make([]*job.Job, 0, len(ids))
	seqs = make([]int64, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, nil, err
		}
		seq, _ := strconv.ParseInt(vals["seq"], 10, 64)
		jobs = append(jobs, j)
		seqs = append(seqs, seq)
	}
	return jobs, seqs, nil
}

// inSeqOrder sorts jobs by insertion sequence, merging due and delayed
// jobs of one queue back into FIFO order.
func inSeqOrder(jobs []*job.Job, seqs []int64) []*job.Job {
	idx := make([]int, len(jobs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int { return cmp.Compare(seqs[a], seqs[b]) })

	out := make([]*job.Job, len(jobs))
	for i, k := range idx {
		out[i] = jobs[k]
	}
	return out
}

// ──────────────────────────────────────────────────
// Hash encoding
// ──────────────────────────────────────────────────

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":          j.ID.String(),
		"queue":       j.Queue,
		"name":        j.Name,
		"payload":     string(j.Payload),
		"codec":       j.Codec,
		"title":       j.Title,
		"state":       string(j.State),
		"enqueued_at": j.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		"run_at":      strconv.FormatInt(j.RunAt.UnixMilli(), 10),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"retry_count": strconv.Itoa(j.RetryCount),
		"last_error":  j.LastError,
		"timeout":     strconv.FormatInt(int64(j.Timeout), 10),
	}
	if !j.WorkerID.IsNil() {
		m["worker_id"] = j.WorkerID.String()
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("backlog/redis: parse job id: %w", err)
	}

	j := &job.Job{
		ID:        jID,
		Queue:     m["queue"],
		Name:      m["name"],
		Codec:     m["codec"],
		Title:     m["title"],
		State:     job.State(m["state"]),
		LastError: m["last_error"],
	}
	if p := m["payload"]; p != "" {
		j.Payload = []byte(p)
	}
	j.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, m["enqueued_at"])
	if ms, err := strconv.ParseInt(m["run_at"], 10, 64); err == nil {
		j.RunAt = time.UnixMilli(ms).UTC()
	}
	j.MaxRetries, _ = strconv.Atoi(m["max_retries"])
	j.RetryCount, _ = strconv.Atoi(m["retry_count"])
	if ns, err := strconv.ParseInt(m["timeout"], 10, 64); err == nil {
		j.Timeout = time.Duration(ns)
	}
	if v := m["worker_id"]; v != "" {
		if wID, err := id.ParseWorkerID(v); err == nil {
			j.WorkerID = wID
		}
	}
	j.StartedAt = parseTimePtr(m["started_at"])
	j.HeartbeatAt = parseTimePtr(m["heartbeat_at"])
	return j, nil
}

// pairs converts a flat HGETALL reply into a map.
func pairs(res []any) map[string]string {
	m := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		m[k] = v
	}
	return m
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
