package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const notificationsTable = "notifications"

// Worker replays notification mutations; both are no-ops when the durable
// record is already gone.
type Worker struct {
	store  durable.Store
	logger log.Logger
}

func NewWorker(store durable.Store, logger log.Logger) *Worker {
	return &Worker{store: store, logger: logger.WithComponent("notifications-worker")}
}

func (w *Worker) Register(c *queue.Consumer) error {
	handlers := map[string]queue.HandlerFunc{
		JobUpdateNotification: w.updateNotification,
		JobDeleteNotification: w.deleteNotification,
	}
	for name, fn := range handlers {
		if err := c.Handle(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) updateNotification(ctx context.Context, env *queue.Envelope) error {
	var job idJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("notifications: decode %s: %w", JobUpdateNotification, err)
	}
	fields := map[string]interface{}{"read": true}
	return durable.IgnoreNotFound(w.store.Update(ctx, notificationsTable, job.NotificationID, fields))
}

func (w *Worker) deleteNotification(ctx context.Context, env *queue.Envelope) error {
	var job idJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("notifications: decode %s: %w", JobDeleteNotification, err)
	}
	return durable.IgnoreNotFound(w.store.Delete(ctx, notificationsTable, job.NotificationID))
}
