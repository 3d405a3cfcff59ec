package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const messagesTable = "messages"

// Worker replays chat mutations. Every handler other than the insert is a
// field-set update, so duplicate deliveries and deliveries for purged
// messages fall through as no-ops.
type Worker struct {
	store  durable.Store
	logger log.Logger
}

func NewWorker(store durable.Store, logger log.Logger) *Worker {
	return &Worker{store: store, logger: logger.WithComponent("chat-worker")}
}

func (w *Worker) Register(c *queue.Consumer) error {
	handlers := map[string]queue.HandlerFunc{
		JobAddMessage:      w.addMessage,
		JobMarkDeleted:     w.markDeleted,
		JobMarkRead:        w.markRead,
		JobMessageReaction: w.messageReaction,
	}
	for name, fn := range handlers {
		if err := c.Handle(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) addMessage(ctx context.Context, env *queue.Envelope) error {
	var job addMessageJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("chat: decode %s: %w", JobAddMessage, err)
	}
	return w.store.Create(ctx, messagesTable, job.Message.ID, doc(job.Message))
}

func (w *Worker) markDeleted(ctx context.Context, env *queue.Envelope) error {
	var job markDeletedJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("chat: decode %s: %w", JobMarkDeleted, err)
	}
	fields := map[string]interface{}{"deleteForMe": true}
	if job.DeleteType == DeleteForEveryone {
		fields["deleteForEveryone"] = true
	}
	return durable.IgnoreNotFound(w.store.Update(ctx, messagesTable, job.MessageID, fields))
}

func (w *Worker) markRead(ctx context.Context, env *queue.Envelope) error {
	var job markReadJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("chat: decode %s: %w", JobMarkRead, err)
	}
	for _, messageID := range job.MessageIDs {
		err := w.store.Update(ctx, messagesTable, messageID, map[string]interface{}{"isRead": true})
		if err := durable.IgnoreNotFound(err); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) messageReaction(ctx context.Context, env *queue.Envelope) error {
	var job reactionJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("chat: decode %s: %w", JobMessageReaction, err)
	}
	fields := map[string]interface{}{"reaction": job.Reaction}
	return durable.IgnoreNotFound(w.store.Update(ctx, messagesTable, job.MessageID, fields))
}
