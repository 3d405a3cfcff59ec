package users

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const usersTable = "users"

// Worker replays user mutations into the durable store.
type Worker struct {
	store  durable.Store
	logger log.Logger
}

func NewWorker(store durable.Store, logger log.Logger) *Worker {
	return &Worker{store: store, logger: logger.WithComponent("users-worker")}
}

func (w *Worker) Register(c *queue.Consumer) error {
	handlers := map[string]queue.HandlerFunc{
		JobAddUser:         w.addUser,
		JobUpdateAttribute: w.updateAttribute,
	}
	for name, fn := range handlers {
		if err := c.Handle(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) addUser(ctx context.Context, env *queue.Envelope) error {
	var job addJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("users: decode %s: %w", JobAddUser, err)
	}
	return w.store.Create(ctx, usersTable, job.User.ID, doc(job.User))
}

func (w *Worker) updateAttribute(ctx context.Context, env *queue.Envelope) error {
	var job attributeJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("users: decode %s: %w", JobUpdateAttribute, err)
	}
	fields := map[string]interface{}{job.Field: job.Value}
	return durable.IgnoreNotFound(w.store.Update(ctx, usersTable, job.UserID, fields))
}
