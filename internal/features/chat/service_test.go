package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

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

func sampleMessage(msgID string) *Message {
	return &Message{
		ID:             msgID,
		ConversationID: "conv1",
		SenderID:       "alice",
		ReceiverID:     "bob",
		Body:           "hey",
		CreatedAtMs:    1700000000000,
	}
}

func TestAddMessage(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.svc.AddMessage(ctx, sampleMessage("m1")); err != nil {
		t.Fatalf("addMessage: %v", err)
	}
	// A second message in the same conversation must not duplicate the chat
	// list entries.
	if err := p.svc.AddMessage(ctx, sampleMessage("m2")); err != nil {
		t.Fatalf("addMessage: %v", err)
	}

	msgs, err := p.svc.Messages(ctx, "conv1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages = %+v", msgs)
	}

	for _, userID := range []string{"alice", "bob"} {
		entries, err := p.svc.ChatListFor(ctx, userID)
		if err != nil {
			t.Fatalf("chatListFor %s: %v", userID, err)
		}
		if len(entries) != 1 || entries[0].ConversationID != "conv1" {
			t.Fatalf("chat list for %s = %+v", userID, entries)
		}
	}

	p.waitDrained(t, 2)
	docOne, err := p.store.Read(ctx, "messages", "m1")
	if err != nil || docOne["body"] != "hey" {
		t.Fatalf("durable message: %v (%v)", docOne, err)
	}
}

func TestMarkRead(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.svc.AddMessage(ctx, sampleMessage("m1")); err != nil {
		t.Fatalf("addMessage: %v", err)
	}
	if err := p.svc.AddMessage(ctx, sampleMessage("m2")); err != nil {
		t.Fatalf("addMessage: %v", err)
	}
	p.waitDrained(t, 2)

	if err := p.svc.MarkRead(ctx, "conv1", "bob"); err != nil {
		t.Fatalf("markRead: %v", err)
	}
	msgs, _ := p.svc.Messages(ctx, "conv1")
	for _, m := range msgs {
		if !m.IsRead {
			t.Fatalf("message %s still unread in cache", m.ID)
		}
	}

	// Nothing left to mark; no extra job.
	if err := p.svc.MarkRead(ctx, "conv1", "bob"); err != nil {
		t.Fatalf("markRead again: %v", err)
	}
	st, _ := p.queue.Stats(ctx)
	if st.Enqueued != 3 {
		t.Fatalf("enqueued = %d, want 3", st.Enqueued)
	}

	p.waitDrained(t, 3)
	for _, msgID := range []string{"m1", "m2"} {
		doc, err := p.store.Read(ctx, "messages", msgID)
		if err != nil || doc["isRead"] != true {
			t.Fatalf("durable %s isRead = %v (%v)", msgID, doc["isRead"], err)
		}
	}
}

func TestMarkDeletedDuplicateDelivery(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.svc.AddMessage(ctx, sampleMessage("m1")); err != nil {
		t.Fatalf("addMessage: %v", err)
	}
	p.waitDrained(t, 1)

	if err := p.svc.MarkDeleted(ctx, "conv1", "m1", DeleteForEveryone); err != nil {
		t.Fatalf("markDeleted: %v", err)
	}
	p.waitDrained(t, 2)

	// Simulate the durable record disappearing, then a duplicate delivery
	// of the same payload. The job must complete as a no-op, not retry.
	if err := p.store.Delete(ctx, "messages", "m1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	raw, _ := json.Marshal(markDeletedJob{MessageID: "m1", DeleteType: DeleteForEveryone})
	if _, err := p.queue.Enqueue(ctx, JobMarkDeleted, json.RawMessage(raw)); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	p.waitDrained(t, 3)

	st, _ := p.queue.Stats(ctx)
	if st.Failed != 0 || st.Retried != 0 {
		t.Fatalf("duplicate delivery not a clean no-op: %+v", st)
	}
}

func TestMessageReaction(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.svc.AddMessage(ctx, sampleMessage("m1")); err != nil {
		t.Fatalf("addMessage: %v", err)
	}
	if err := p.svc.AddMessageReaction(ctx, "conv1", "m1", "love"); err != nil {
		t.Fatalf("addMessageReaction: %v", err)
	}

	msgs, _ := p.svc.Messages(ctx, "conv1")
	if len(msgs) != 1 || msgs[0].Reaction != "love" {
		t.Fatalf("cached reaction = %+v", msgs)
	}

	p.waitDrained(t, 2)
	doc, err := p.store.Read(ctx, "messages", "m1")
	if err != nil || doc["reaction"] != "love" {
		t.Fatalf("durable reaction = %v (%v)", doc, err)
	}
}
