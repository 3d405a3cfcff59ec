package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/TangoRomeo80/chatty/pkg/log"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Open(rdb, "post", Options{MaxAttempts: 3, Backoff: 5 * time.Second, Lease: 30 * time.Second}, log.Nop())
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, "addPostToDB", map[string]string{"key": "p1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID == "" {
		t.Fatalf("want job id")
	}

	env, err := q.Dequeue(ctx, 1000)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if env == nil || env.Name != "addPostToDB" || env.Attempts != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload["key"] != "p1" {
		t.Fatalf("payload round-trip: %v %v", payload, err)
	}
}

func TestDequeueEmpty(t *testing.T) {
	q := openTestQueue(t)
	env, err := q.Dequeue(context.Background(), 1000)
	if err != nil || env != nil {
		t.Fatalf("empty queue: %v %v", env, err)
	}
}

func TestFIFOWithinQueue(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, "addPostToDB", "a")
	second, _ := q.Enqueue(ctx, "addPostToDB", "b")

	env1, _ := q.Dequeue(ctx, 1000)
	env2, _ := q.Dequeue(ctx, 1000)
	if env1.ID != first || env2.ID != second {
		t.Fatalf("expected FIFO order: %s %s vs %s %s", env1.ID, env2.ID, first, second)
	}
}

func TestCompleteRemovesAllTraces(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jobID, _ := q.Enqueue(ctx, "addPostToDB", "x")
	env, _ := q.Dequeue(ctx, 1000)
	if err := q.Complete(ctx, env.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Pending != 0 || st.Active != 0 || st.Retry != 0 || st.Failed != 0 {
		t.Fatalf("completed job left traces: %+v", st)
	}
	if st.Completed != 1 {
		t.Fatalf("completed counter: %+v", st)
	}
	_ = jobID
}

func TestFailTwiceThenSucceed(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	boom := errors.New("durable store down")

	_, _ = q.Enqueue(ctx, "addPostToDB", "x")

	// attempt 1 fails at t=1000; ready again at 6000
	env, _ := q.Dequeue(ctx, 1000)
	if retried, _ := q.Fail(ctx, env, boom, 1000); !retried {
		t.Fatalf("attempt 1 should schedule a retry")
	}
	if env2, _ := q.Dequeue(ctx, 2000); env2 != nil {
		t.Fatalf("job visible before backoff elapsed")
	}
	if n, _ := q.PromoteRetries(ctx, 5000); n != 0 {
		t.Fatalf("promoted before due: %d", n)
	}
	if n, _ := q.PromoteRetries(ctx, 6000); n != 1 {
		t.Fatalf("promotion at due time: %d", n)
	}

	// attempt 2 fails at t=6000; ready at 11000
	env, _ = q.Dequeue(ctx, 6000)
	if env.Attempts != 2 {
		t.Fatalf("attempt counter: %d", env.Attempts)
	}
	if retried, _ := q.Fail(ctx, env, boom, 6000); !retried {
		t.Fatalf("attempt 2 should schedule a retry")
	}
	_, _ = q.PromoteRetries(ctx, 11000)

	// attempt 3 succeeds
	env, _ = q.Dequeue(ctx, 11000)
	if env.Attempts != 3 {
		t.Fatalf("attempt counter: %d", env.Attempts)
	}
	if err := q.Complete(ctx, env.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	st, _ := q.Stats(ctx)
	if st.Completed != 1 || st.Failed != 0 || st.Retry != 0 {
		t.Fatalf("final stats: %+v", st)
	}
}

func TestThreeFailuresParkTheJob(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	boom := errors.New("durable store down")

	_, _ = q.Enqueue(ctx, "addPostToDB", "x")
	now := int64(1000)
	for attempt := 1; attempt <= 3; attempt++ {
		_, _ = q.PromoteRetries(ctx, now)
		env, _ := q.Dequeue(ctx, now)
		if env == nil {
			t.Fatalf("attempt %d: no job", attempt)
		}
		retried, err := q.Fail(ctx, env, boom, now)
		if err != nil {
			t.Fatalf("fail: %v", err)
		}
		if attempt < 3 && !retried {
			t.Fatalf("attempt %d should retry", attempt)
		}
		if attempt == 3 && retried {
			t.Fatalf("attempt 3 should exhaust")
		}
		now += 5000
	}

	st, _ := q.Stats(ctx)
	if st.Failed != 1 || st.Exhausted != 1 {
		t.Fatalf("parked job missing from stats: %+v", st)
	}

	// Parked jobs are never silently retried.
	if n, _ := q.PromoteRetries(ctx, now+1_000_000); n != 0 {
		t.Fatalf("exhausted job was promoted")
	}
	if env, _ := q.Dequeue(ctx, now); env != nil {
		t.Fatalf("exhausted job was redelivered: %+v", env)
	}

	failed, err := q.FailedJobs(ctx, 10)
	if err != nil || len(failed) != 1 {
		t.Fatalf("failedJobs: %v %v", failed, err)
	}
	if failed[0].LastError == "" || failed[0].FailedAtMs == 0 {
		t.Fatalf("parked envelope lacks failure details: %+v", failed[0])
	}
}

func TestRequeueFailedResetsBudget(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	boom := errors.New("boom")

	jobID, _ := q.Enqueue(ctx, "addPostToDB", "x")
	now := int64(1000)
	for attempt := 1; attempt <= 3; attempt++ {
		_, _ = q.PromoteRetries(ctx, now)
		env, _ := q.Dequeue(ctx, now)
		_, _ = q.Fail(ctx, env, boom, now)
		now += 5000
	}

	if err := q.RequeueFailed(ctx, jobID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	env, _ := q.Dequeue(ctx, now)
	if env == nil || env.Attempts != 1 {
		t.Fatalf("requeued job should run with a fresh budget: %+v", env)
	}
}

func TestReclaimExpiredLease(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, "addPostToDB", "x")
	env, _ := q.Dequeue(ctx, 1000) // lease until 31000

	if n, _ := q.ReclaimExpired(ctx, 20_000); n != 0 {
		t.Fatalf("live lease must not be reclaimed")
	}
	if n, _ := q.ReclaimExpired(ctx, 40_000); n != 1 {
		t.Fatalf("expired lease should be reclaimed")
	}

	redelivered, _ := q.Dequeue(ctx, 40_000)
	if redelivered == nil || redelivered.ID != env.ID {
		t.Fatalf("reclaimed job not redelivered: %+v", redelivered)
	}
	if redelivered.Attempts != 2 {
		t.Fatalf("redelivery should count as a new attempt: %d", redelivered.Attempts)
	}
}

func TestEnqueueFailureSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := Open(rdb, "post", DefaultOptions(), log.Nop())

	mr.Close()
	_, err := q.Enqueue(context.Background(), "addPostToDB", "x")
	if !errors.Is(err, ErrEnqueue) {
		t.Fatalf("enqueue against dead backend must surface ErrEnqueue, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	q := openTestQueue(t)
	r := NewRegistry()
	if err := r.Register(q); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(q); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
	if got, ok := r.Get("post"); !ok || got != q {
		t.Fatalf("lookup failed")
	}
}
