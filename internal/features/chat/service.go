package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/id"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

type Service struct {
	cache  *cache.Store
	bus    *events.Bus
	queue  *queue.Queue
	logger log.Logger
}

func NewService(c *cache.Store, b *events.Bus, q *queue.Queue, logger log.Logger) *Service {
	return &Service{cache: c, bus: b, queue: q, logger: logger.WithComponent("chat")}
}

type addMessageJob struct {
	Message *Message `json:"message"`
}

type markDeletedJob struct {
	MessageID  string `json:"messageId"`
	DeleteType string `json:"deleteType"`
}

type markReadJob struct {
	MessageIDs []string `json:"messageIds"`
}

type reactionJob struct {
	MessageID string `json:"messageId"`
	Reaction  string `json:"reaction"`
}

// Delete type selectors for MarkDeleted.
const (
	DeleteForMe       = "deleteForMe"
	DeleteForEveryone = "deleteForEveryone"
)

// AddMessage appends the message to its conversation, keeps both
// participants' chat lists pointing at the conversation, emits the
// `message received` and `chat list` events and schedules the durable
// insert.
func (s *Service) AddMessage(ctx context.Context, m *Message) error {
	if m.CreatedAtMs == 0 {
		m.CreatedAtMs = id.NowMs()
	}
	raw, err := encodeMessage(m)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serialize message", err)
	}
	if err := s.cache.ListAppend(ctx, cache.MessagesKey(m.ConversationID), raw); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache message", err)
	}
	if err := s.ensureChatListEntry(ctx, m.SenderID, m.ConversationID, m.ReceiverID); err != nil {
		return err
	}
	if err := s.ensureChatListEntry(ctx, m.ReceiverID, m.ConversationID, m.SenderID); err != nil {
		return err
	}
	s.publish(ctx, events.MessageReceived, m)
	s.publish(ctx, events.ChatList, ChatListEntry{ConversationID: m.ConversationID, ParticipantID: m.ReceiverID})
	if _, err := s.queue.Enqueue(ctx, JobAddMessage, addMessageJob{Message: m}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue message", err)
	}
	return nil
}

// Messages returns the conversation's messages in send order.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]*Message, error) {
	raws, err := s.cache.ListRange(ctx, cache.MessagesKey(conversationID), 0, -1)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read messages", err)
	}
	out := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		m, err := decodeMessage(raw)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode message", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ChatListFor returns the user's conversation pointers.
func (s *Service) ChatListFor(ctx context.Context, userID string) ([]*ChatListEntry, error) {
	raws, err := s.cache.ListRange(ctx, cache.ChatListKey(userID), 0, -1)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read chat list", err)
	}
	out := make([]*ChatListEntry, 0, len(raws))
	for _, raw := range raws {
		var e ChatListEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode chat list entry", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// MarkRead flips isRead on every unread message the receiver has in the
// conversation and schedules one durable job covering all of them.
func (s *Service) MarkRead(ctx context.Context, conversationID, receiverID string) error {
	raws, err := s.cache.ListRange(ctx, cache.MessagesKey(conversationID), 0, -1)
	if err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "read messages", err)
	}
	var marked []string
	var last *Message
	for i, raw := range raws {
		m, err := decodeMessage(raw)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "decode message", err)
		}
		if m.IsRead || m.ReceiverID != receiverID {
			continue
		}
		m.IsRead = true
		updated, err := encodeMessage(m)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "serialize message", err)
		}
		if err := s.cache.ListSet(ctx, cache.MessagesKey(conversationID), int64(i), updated); err != nil {
			return apperr.Wrap(apperr.KindCacheUnavailable, "mark message read", err)
		}
		marked = append(marked, m.ID)
		last = m
	}
	if len(marked) == 0 {
		return nil
	}
	s.publish(ctx, events.MessageRead, last)
	if _, err := s.queue.Enqueue(ctx, JobMarkRead, markReadJob{MessageIDs: marked}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue mark read", err)
	}
	return nil
}

// MarkDeleted flags one message as deleted for one or both sides.
func (s *Service) MarkDeleted(ctx context.Context, conversationID, messageID, deleteType string) error {
	idx, m, err := s.findMessage(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	switch deleteType {
	case DeleteForMe:
		m.DeleteForMe = true
	case DeleteForEveryone:
		m.DeleteForMe = true
		m.DeleteForEveryone = true
	default:
		return apperr.New(apperr.KindValidation, fmt.Sprintf("unknown delete type %q", deleteType))
	}
	updated, err := encodeMessage(m)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serialize message", err)
	}
	if err := s.cache.ListSet(ctx, cache.MessagesKey(conversationID), idx, updated); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "mark message deleted", err)
	}
	s.publish(ctx, events.MessageRead, m)
	if _, err := s.queue.Enqueue(ctx, JobMarkDeleted, markDeletedJob{MessageID: messageID, DeleteType: deleteType}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue mark deleted", err)
	}
	return nil
}

// AddMessageReaction sets or replaces the reaction on one message.
func (s *Service) AddMessageReaction(ctx context.Context, conversationID, messageID, reaction string) error {
	idx, m, err := s.findMessage(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	m.Reaction = reaction
	updated, err := encodeMessage(m)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serialize message", err)
	}
	if err := s.cache.ListSet(ctx, cache.MessagesKey(conversationID), idx, updated); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "set message reaction", err)
	}
	s.publish(ctx, events.MessageReaction, m)
	if _, err := s.queue.Enqueue(ctx, JobMessageReaction, reactionJob{MessageID: messageID, Reaction: reaction}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue message reaction", err)
	}
	return nil
}

func (s *Service) findMessage(ctx context.Context, conversationID, messageID string) (int64, *Message, error) {
	raws, err := s.cache.ListRange(ctx, cache.MessagesKey(conversationID), 0, -1)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindCacheUnavailable, "read messages", err)
	}
	for i, raw := range raws {
		m, err := decodeMessage(raw)
		if err != nil {
			return 0, nil, apperr.Wrap(apperr.KindInternal, "decode message", err)
		}
		if m.ID == messageID {
			return int64(i), m, nil
		}
	}
	return 0, nil, apperr.New(apperr.KindNotFound, "message "+messageID)
}

// ensureChatListEntry adds the conversation pointer once per user.
func (s *Service) ensureChatListEntry(ctx context.Context, userID, conversationID, participantID string) error {
	existing, err := s.ChatListFor(ctx, userID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ConversationID == conversationID {
			return nil
		}
	}
	raw, err := json.Marshal(ChatListEntry{ConversationID: conversationID, ParticipantID: participantID})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serialize chat list entry", err)
	}
	if err := s.cache.ListAppend(ctx, cache.ChatListKey(userID), string(raw)); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache chat list entry", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event string, payload interface{}) {
	if err := s.bus.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("event publish failed", log.Str("event", event), log.Err(err))
	}
}
