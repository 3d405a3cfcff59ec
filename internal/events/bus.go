package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/TangoRomeo80/chatty/pkg/log"
)

// Channel is the shared backplane channel all instances publish on.
const Channel = "chatty/events"

// Event names published by the feature services.
const (
	AddPost            = "add post"
	UpdatePost         = "update post"
	DeletePost         = "delete post"
	MessageReceived    = "message received"
	ChatList           = "chat list"
	MessageRead        = "message read"
	MessageReaction    = "message reaction"
	AddReaction        = "add reaction"
	AddComment         = "add comment"
	AddFollower        = "add follower"
	RemoveFollower     = "remove follower"
	BlockUser          = "block user"
	UnblockUser        = "unblock user"
	UpdateNotification = "update notification"
	DeleteNotification = "delete notification"
	AddUser            = "add user"
	UpdateUser         = "update user"
)

// Message is the wire envelope carried over the backplane and handed to
// subscribers.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin"`
}

// Subscription is one attached client. Events arrive on C until Cancel.
type Subscription struct {
	C      <-chan Message
	cancel func()
}

// Cancel detaches the subscription.
func (s *Subscription) Cancel() { s.cancel() }

// Bus fans events out to local subscriptions and the Redis backplane.
type Bus struct {
	rdb    *redis.Client
	origin string
	logger log.Logger

	mu     sync.RWMutex
	subs   map[int64]chan Message
	nextID int64

	ps     *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus creates a Bus identified by origin on the backplane. origin must
// be unique per process instance.
func NewBus(rdb *redis.Client, origin string, logger log.Logger) *Bus {
	return &Bus{
		rdb:    rdb,
		origin: origin,
		logger: logger.With(log.Component("events"), log.Str("origin", origin)),
		subs:   make(map[int64]chan Message),
	}
}

// Start attaches the backplane relay. Events published by sibling
// instances are re-emitted to local subscribers; our own are skipped since
// Publish already delivered them.
func (b *Bus) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	b.ps = b.rdb.Subscribe(ctx, Channel)
	// Force the subscription onto the wire before Start returns, so a
	// sibling's publish immediately after startup is not lost.
	if _, err := b.ps.Receive(ctx); err != nil {
		return fmt.Errorf("events: backplane subscribe: %w", err)
	}
	b.wg.Add(1)
	go b.relay(ctx)
	return nil
}

func (b *Bus) relay(ctx context.Context) {
	defer b.wg.Done()
	ch := b.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("undecodable backplane message", log.Err(err))
				continue
			}
			if msg.Origin == b.origin {
				continue
			}
			b.deliverLocal(msg)
		}
	}
}

// Publish delivers event to local subscribers and broadcasts it to sibling
// instances. A backplane error is returned but local delivery has already
// happened; callers treat it as degraded service, not request failure.
func (b *Bus) Publish(ctx context.Context, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %q: %w", event, err)
	}
	msg := Message{Event: event, Payload: raw, Origin: b.origin}
	b.deliverLocal(msg)

	wire, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("events: marshal envelope %q: %w", event, err)
	}
	if err := b.rdb.Publish(ctx, Channel, wire).Err(); err != nil {
		b.logger.Warn("backplane publish failed", log.Str("event", event), log.Err(err))
		return fmt.Errorf("events: publish %q: %w", event, err)
	}
	return nil
}

// Subscribe attaches a buffered subscription. When the buffer is full
// further events are dropped for that subscriber.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	b.nextID++
	subID := b.nextID
	b.subs[subID] = ch
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			if _, ok := b.subs[subID]; ok {
				delete(b.subs, subID)
				close(ch)
			}
			b.mu.Unlock()
		},
	}
}

func (b *Bus) deliverLocal(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
}

// Close detaches the backplane and every subscription.
func (b *Bus) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.ps != nil {
		_ = b.ps.Close()
	}
	b.wg.Wait()
	b.mu.Lock()
	for subID, ch := range b.subs {
		delete(b.subs, subID)
		close(ch)
	}
	b.mu.Unlock()
}
