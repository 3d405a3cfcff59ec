package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

type pipeline struct {
	cache *cache.Store
	queue *queue.Queue
	store *durable.MemoryStore
	svc   *Service
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := cache.New(rdb, log.Nop())
	bus := events.NewBus(rdb, "test", log.Nop())
	q := queue.Open(rdb, QueueName, queue.Options{MaxAttempts: 3, Backoff: 50 * time.Millisecond, Lease: time.Second}, log.Nop())
	store := durable.NewMemory()

	cons := queue.NewConsumer(q, queue.ConsumerOptions{Concurrency: 2, PollInterval: 5 * time.Millisecond, SweepInterval: 10 * time.Millisecond}, log.Nop())
	if err := NewWorker(store, log.Nop()).Register(cons); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	cons.Start(context.Background())
	t.Cleanup(cons.Close)

	return &pipeline{cache: c, queue: q, store: store, svc: NewService(c, bus, q, log.Nop())}
}

func (p *pipeline) waitDrained(t *testing.T, completed int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := p.queue.Stats(context.Background())
		if err == nil && st.Completed >= completed && st.Pending == 0 && st.Active == 0 && st.Retry == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := p.queue.Stats(context.Background())
	t.Fatalf("queue did not drain to %d completions: %+v", completed, st)
}

func sampleUser() *User {
	return &User{
		ID:          "u1",
		UID:         42,
		Username:    "manny",
		Email:       "manny@example.com",
		AvatarColor: "#ff9800",
		CreatedAtMs: 1700000000000,
	}
}

func TestAddUserRoundTrip(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.svc.Add(ctx, sampleUser()); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := p.svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Username != "manny" || got.UID != 42 {
		t.Fatalf("snapshot = %+v", got)
	}
	if got.Blocked == nil || len(got.Blocked) != 0 {
		t.Fatalf("blocked = %#v, want empty list", got.Blocked)
	}

	members, err := p.cache.IndexScoreRange(ctx, cache.UserIndex, 42, 42)
	if err != nil || len(members) != 1 || members[0] != "u1" {
		t.Fatalf("user index at score 42 = %v (%v)", members, err)
	}

	p.waitDrained(t, 1)
	doc, err := p.store.Read(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("durable read: %v", err)
	}
	if doc["username"] != "manny" {
		t.Fatalf("durable username = %v", doc["username"])
	}
}

func TestUpdateAttributeBothReplicas(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.svc.Add(ctx, sampleUser()); err != nil {
		t.Fatalf("add: %v", err)
	}
	p.waitDrained(t, 1)

	if err := p.svc.UpdateAttribute(ctx, "u1", "avatarColor", "#2196f3"); err != nil {
		t.Fatalf("updateAttribute: %v", err)
	}
	got, err := p.svc.Get(ctx, "u1")
	if err != nil || got.AvatarColor != "#2196f3" {
		t.Fatalf("cached avatarColor = %v (%v)", got, err)
	}

	p.waitDrained(t, 2)
	doc, err := p.store.Read(ctx, "users", "u1")
	if err != nil || doc["avatarColor"] != "#2196f3" {
		t.Fatalf("durable avatarColor = %v (%v)", doc, err)
	}
}

func TestUpdateAttributeForDeletedUserIsNoOp(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// No durable record exists; the job must complete, not park.
	if err := p.svc.UpdateAttribute(ctx, "ghost", "avatarColor", "#000000"); err != nil {
		t.Fatalf("updateAttribute: %v", err)
	}
	p.waitDrained(t, 1)
	st, _ := p.queue.Stats(ctx)
	if st.Failed != 0 || st.Retried != 0 {
		t.Fatalf("missing durable user should be a no-op: %+v", st)
	}
	if _, err := p.store.Read(ctx, "users", "ghost"); !errors.Is(err, durable.ErrNotFound) {
		t.Fatalf("ghost user materialized: %v", err)
	}
}

func TestGetMissingUser(t *testing.T) {
	p := newPipeline(t)
	_, err := p.svc.Get(context.Background(), "nope")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("error kind = %v, want KindNotFound", apperr.KindOf(err))
	}
}
