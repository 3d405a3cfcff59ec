// Package chat maintains conversation message lists and per-user chat
// lists in the cache, with the usual event and job fan-out per mutation.
package chat

import (
	"encoding/json"
	"fmt"
)

const (
	QueueName = "chat"

	JobAddMessage      = "addChatMessageToDB"
	JobMarkDeleted     = "markMessageAsDeletedInDB"
	JobMarkRead        = "markMessagesAsReadInDB"
	JobMessageReaction = "updateMessageReactionInDB"
)

// Message is one chat message as cached in its conversation list.
type Message struct {
	ID                string `json:"_id"`
	ConversationID    string `json:"conversationId"`
	SenderID          string `json:"senderId"`
	ReceiverID        string `json:"receiverId"`
	Body              string `json:"body"`
	GifURL            string `json:"gifUrl"`
	IsRead            bool   `json:"isRead"`
	DeleteForMe       bool   `json:"deleteForMe"`
	DeleteForEveryone bool   `json:"deleteForEveryone"`
	Reaction          string `json:"reaction"`
	CreatedAtMs       int64  `json:"createdAt"`
}

// ChatListEntry points a user at one of their conversations.
type ChatListEntry struct {
	ConversationID string `json:"conversationId"`
	ParticipantID  string `json:"participantId"`
}

func encodeMessage(m *Message) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("chat: marshal message: %w", err)
	}
	return string(b), nil
}

func decodeMessage(raw string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("chat: decode message: %w", err)
	}
	return &m, nil
}

func doc(m *Message) map[string]interface{} {
	return map[string]interface{}{
		"conversationId":    m.ConversationID,
		"senderId":          m.SenderID,
		"receiverId":        m.ReceiverID,
		"body":              m.Body,
		"gifUrl":            m.GifURL,
		"isRead":            m.IsRead,
		"deleteForMe":       m.DeleteForMe,
		"deleteForEveryone": m.DeleteForEveryone,
		"reaction":          m.Reaction,
		"createdAt":         m.CreatedAtMs,
	}
}
