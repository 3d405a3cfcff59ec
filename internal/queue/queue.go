package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TangoRomeo80/chatty/pkg/id"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

// ErrEnqueue marks enqueue failures; callers must surface these to the
// request boundary rather than dropping them.
var ErrEnqueue = errors.New("queue: enqueue failed")

// Options govern re-delivery for all jobs of a queue.
type Options struct {
	MaxAttempts int           // attempts before a job is parked
	Backoff     time.Duration // fixed delay between attempts
	Lease       time.Duration // how long a dequeued job may run unobserved
}

// DefaultOptions returns the uniform policy: 3 attempts, 5s fixed backoff.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, Backoff: 5 * time.Second, Lease: 30 * time.Second}
}

// Queue is a named, durable work queue. One Queue per feature, constructed
// once at process start and registered in the Registry.
type Queue struct {
	rdb    *redis.Client
	name   string
	opts   Options
	logger log.Logger
}

// Open initializes a Queue over the shared backend.
func Open(rdb *redis.Client, name string, opts Options, logger log.Logger) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultOptions().Backoff
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultOptions().Lease
	}
	return &Queue{rdb: rdb, name: name, opts: opts, logger: logger.With(log.Component("queue"), log.Str("queue", name))}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue durably records a job and makes it available to consumers. It
// returns once the backend accepted the write; execution is asynchronous.
// Backend failures are returned to the caller, never swallowed.
func (q *Queue) Enqueue(ctx context.Context, jobName string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal %s: %v", ErrEnqueue, jobName, err)
	}
	env := &Envelope{
		ID:           id.ObjectID(),
		Queue:        q.name,
		Name:         jobName,
		Payload:      raw,
		MaxAttempts:  q.opts.MaxAttempts,
		BackoffMs:    q.opts.Backoff.Milliseconds(),
		EnqueuedAtMs: id.NowMs(),
	}
	body, err := EncodeEnvelope(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(q.name, env.ID), body, 0)
	pipe.LPush(ctx, pendingKey(q.name), env.ID)
	pipe.HIncrBy(ctx, countsKey(q.name), countEnqueued, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("enqueue failed", log.Str("job", jobName), log.Err(err))
		return "", fmt.Errorf("%w: %s: %v", ErrEnqueue, jobName, err)
	}
	q.logger.Debug("enqueued", log.Str("job", jobName), log.Str("id", env.ID))
	return env.ID, nil
}

// dequeueScript pops the oldest pending id into the active list and writes
// its lease in one atomic step, so an active id always has a lease entry.
var dequeueScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if id then
  redis.call('ZADD', KEYS[3], ARGV[1], id)
end
return id
`)

// Dequeue moves the oldest pending job to the active set under a lease and
// returns it with its attempt counter already bumped. Returns (nil, nil)
// when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, nowMs int64) (*Envelope, error) {
	expiry := nowMs + q.opts.Lease.Milliseconds()
	res, err := dequeueScript.Run(ctx, q.rdb,
		[]string{pendingKey(q.name), activeKey(q.name), leaseKey(q.name)},
		expiry).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", q.name, err)
	}
	jobID, ok := res.(string)
	if !ok || jobID == "" {
		return nil, nil
	}

	body, err := q.rdb.Get(ctx, jobKey(q.name, jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Orphaned id with no envelope; drop it.
		_ = q.rdb.LRem(ctx, activeKey(q.name), 1, jobID).Err()
		_ = q.rdb.ZRem(ctx, leaseKey(q.name), jobID).Err()
		q.logger.Warn("dropped orphaned job id", log.Str("id", jobID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: load %s: %w", q.name, jobID, err)
	}
	env, err := DecodeEnvelope(body)
	if err != nil {
		_ = q.rdb.LRem(ctx, activeKey(q.name), 1, jobID).Err()
		_ = q.rdb.ZRem(ctx, leaseKey(q.name), jobID).Err()
		_ = q.rdb.Del(ctx, jobKey(q.name, jobID)).Err()
		q.logger.Warn("dropped undecodable job", log.Str("id", jobID), log.Err(err))
		return nil, nil
	}

	env.Attempts++
	env.DequeuedAtMs = nowMs
	updated, err := EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	if err := q.rdb.Set(ctx, jobKey(q.name, jobID), updated, 0).Err(); err != nil {
		return nil, fmt.Errorf("dequeue %s: record attempt %s: %w", q.name, jobID, err)
	}
	return env, nil
}

// Complete removes a finished job entirely; completed jobs keep no history.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, activeKey(q.name), 1, jobID)
	pipe.ZRem(ctx, leaseKey(q.name), jobID)
	pipe.Del(ctx, jobKey(q.name, jobID))
	pipe.HIncrBy(ctx, countsKey(q.name), countCompleted, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete %s/%s: %w", q.name, jobID, err)
	}
	return nil
}

// Fail records a failed attempt. Within budget the job is scheduled for
// retry at nowMs+backoff; once exhausted it is parked in the failed set and
// never silently retried again. Returns whether a retry was scheduled.
func (q *Queue) Fail(ctx context.Context, env *Envelope, cause error, nowMs int64) (bool, error) {
	env.LastError = cause.Error()
	retryable := !env.Exhausted()
	if !retryable {
		env.FailedAtMs = nowMs
	}
	body, err := EncodeEnvelope(env)
	if err != nil {
		return false, err
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, activeKey(q.name), 1, env.ID)
	pipe.ZRem(ctx, leaseKey(q.name), env.ID)
	pipe.Set(ctx, jobKey(q.name, env.ID), body, 0)
	if retryable {
		pipe.ZAdd(ctx, retryKey(q.name), redis.Z{Score: float64(nowMs + env.BackoffMs), Member: env.ID})
		pipe.HIncrBy(ctx, countsKey(q.name), countRetried, 1)
	} else {
		pipe.ZAdd(ctx, failedKey(q.name), redis.Z{Score: float64(nowMs), Member: env.ID})
		pipe.HIncrBy(ctx, countsKey(q.name), countFailed, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("fail %s/%s: %w", q.name, env.ID, err)
	}
	if retryable {
		q.logger.Warn("attempt failed, retry scheduled",
			log.Str("job", env.Name), log.Str("id", env.ID),
			log.Int("attempt", env.Attempts), log.Err(cause))
	} else {
		q.logger.Error("attempts exhausted, job parked",
			log.Str("job", env.Name), log.Str("id", env.ID),
			log.Int("attempts", env.Attempts), log.Err(cause))
	}
	return retryable, nil
}

// PromoteRetries returns due retry members to the pending list. Called
// periodically by the consumer loop.
func (q *Queue) PromoteRetries(ctx context.Context, nowMs int64) (int, error) {
	due, err := q.rdb.ZRangeByScore(ctx, retryKey(q.name), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", nowMs),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote %s: %w", q.name, err)
	}
	promoted := 0
	for _, jobID := range due {
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, retryKey(q.name), jobID)
		pipe.LPush(ctx, pendingKey(q.name), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, fmt.Errorf("promote %s/%s: %w", q.name, jobID, err)
		}
		promoted++
	}
	return promoted, nil
}

// ReclaimExpired returns active jobs with missing or expired leases to the
// pending list. A consumer crash between dequeue and ack lands here, which
// is what upgrades delivery to at-least-once.
func (q *Queue) ReclaimExpired(ctx context.Context, nowMs int64) (int, error) {
	active, err := q.rdb.LRange(ctx, activeKey(q.name), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("reclaim %s: %w", q.name, err)
	}
	reclaimed := 0
	for _, jobID := range active {
		score, err := q.rdb.ZScore(ctx, leaseKey(q.name), jobID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return reclaimed, fmt.Errorf("reclaim %s/%s: %w", q.name, jobID, err)
		}
		if err == nil && int64(score) > nowMs {
			continue // lease still held
		}
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, activeKey(q.name), 1, jobID)
		pipe.ZRem(ctx, leaseKey(q.name), jobID)
		pipe.LPush(ctx, pendingKey(q.name), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, fmt.Errorf("reclaim %s/%s: %w", q.name, jobID, err)
		}
		q.logger.Warn("reclaimed expired lease", log.Str("id", jobID))
		reclaimed++
	}
	return reclaimed, nil
}

// Stats is the read-only operational view consumed by the dashboard.
type Stats struct {
	Queue     string `json:"queue"`
	Pending   int64  `json:"pending"`
	Active    int64  `json:"active"`
	Retry     int64  `json:"retry"`
	Failed    int64  `json:"failed"`
	Enqueued  int64  `json:"enqueued"`
	Completed int64  `json:"completed"`
	Retried   int64  `json:"retried"`
	Exhausted int64  `json:"exhausted"`
}

// Stats reads queue depth and lifetime counters.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Queue: q.name}
	var err error
	if st.Pending, err = q.rdb.LLen(ctx, pendingKey(q.name)).Result(); err != nil {
		return st, fmt.Errorf("stats %s: %w", q.name, err)
	}
	if st.Active, err = q.rdb.LLen(ctx, activeKey(q.name)).Result(); err != nil {
		return st, fmt.Errorf("stats %s: %w", q.name, err)
	}
	if st.Retry, err = q.rdb.ZCard(ctx, retryKey(q.name)).Result(); err != nil {
		return st, fmt.Errorf("stats %s: %w", q.name, err)
	}
	if st.Failed, err = q.rdb.ZCard(ctx, failedKey(q.name)).Result(); err != nil {
		return st, fmt.Errorf("stats %s: %w", q.name, err)
	}
	counts, err := q.rdb.HGetAll(ctx, countsKey(q.name)).Result()
	if err != nil {
		return st, fmt.Errorf("stats %s: %w", q.name, err)
	}
	st.Enqueued = countVal(counts, countEnqueued)
	st.Completed = countVal(counts, countCompleted)
	st.Retried = countVal(counts, countRetried)
	st.Exhausted = countVal(counts, countFailed)
	return st, nil
}

// FailedJobs lists parked envelopes, newest first, for operator inspection.
func (q *Queue) FailedJobs(ctx context.Context, limit int64) ([]*Envelope, error) {
	ids, err := q.rdb.ZRevRange(ctx, failedKey(q.name), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failedJobs %s: %w", q.name, err)
	}
	out := make([]*Envelope, 0, len(ids))
	for _, jobID := range ids {
		body, err := q.rdb.Get(ctx, jobKey(q.name, jobID)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failedJobs %s/%s: %w", q.name, jobID, err)
		}
		env, err := DecodeEnvelope(body)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// RequeueFailed is the operator intervention for a parked job: the attempt
// budget is reset and the job re-enters the pending list.
func (q *Queue) RequeueFailed(ctx context.Context, jobID string) error {
	body, err := q.rdb.Get(ctx, jobKey(q.name, jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("requeue %s/%s: job not found", q.name, jobID)
	}
	if err != nil {
		return fmt.Errorf("requeue %s/%s: %w", q.name, jobID, err)
	}
	env, err := DecodeEnvelope(body)
	if err != nil {
		return err
	}
	env.Attempts = 0
	env.FailedAtMs = 0
	env.LastError = ""
	updated, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, failedKey(q.name), jobID)
	pipe.Set(ctx, jobKey(q.name, jobID), updated, 0)
	pipe.LPush(ctx, pendingKey(q.name), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue %s/%s: %w", q.name, jobID, err)
	}
	return nil
}

func countVal(m map[string]string, field string) int64 {
	var n int64
	fmt.Sscanf(m[field], "%d", &n)
	return n
}
