package posts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	postsTable = "posts"
	usersTable = "users"
)

// Worker replays post mutations into the durable store. Handlers are
// idempotent under at-least-once delivery: creates are upserts, a missing
// target on update or delete is success, and the postsCount deltas are
// guarded by a per-job applied marker so a redelivered envelope never
// moves the counter twice.
type Worker struct {
	store  durable.Store
	logger log.Logger
}

func NewWorker(store durable.Store, logger log.Logger) *Worker {
	return &Worker{store: store, logger: logger.WithComponent("posts-worker")}
}

// Register binds the post job names to their handlers.
func (w *Worker) Register(c *queue.Consumer) error {
	handlers := map[string]queue.HandlerFunc{
		JobAddPost:    w.addPost,
		JobUpdatePost: w.updatePost,
		JobDeletePost: w.deletePost,
	}
	for name, fn := range handlers {
		if err := c.Handle(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) addPost(ctx context.Context, env *queue.Envelope) error {
	var job createJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("posts: decode %s: %w", JobAddPost, err)
	}
	applied, err := durable.WasApplied(ctx, w.store, env.ID)
	if err != nil || applied {
		return err
	}
	if err := w.store.Create(ctx, postsTable, job.Post.ID, doc(job.Post)); err != nil {
		return err
	}
	if err := durable.IgnoreNotFound(w.store.Increment(ctx, usersTable, job.Post.UserID, "postsCount", 1)); err != nil {
		return err
	}
	return durable.MarkApplied(ctx, w.store, env.ID)
}

func (w *Worker) updatePost(ctx context.Context, env *queue.Envelope) error {
	var job updateJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("posts: decode %s: %w", JobUpdatePost, err)
	}
	return durable.IgnoreNotFound(w.store.Update(ctx, postsTable, job.PostID, job.Fields))
}

func (w *Worker) deletePost(ctx context.Context, env *queue.Envelope) error {
	var job deleteJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("posts: decode %s: %w", JobDeletePost, err)
	}
	applied, err := durable.WasApplied(ctx, w.store, env.ID)
	if err != nil || applied {
		return err
	}
	if err := durable.IgnoreNotFound(w.store.Delete(ctx, postsTable, job.PostID)); err != nil {
		return err
	}
	if err := durable.IgnoreNotFound(w.store.Increment(ctx, usersTable, job.UserID, "postsCount", -1)); err != nil {
		return err
	}
	return durable.MarkApplied(ctx, w.store, env.ID)
}
