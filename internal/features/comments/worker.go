package comments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	commentsTable = "comments"
	postsTable    = "posts"
)

// Worker replays comment inserts and the matching durable commentsCount
// bump. A per-job applied marker keeps a redelivered envelope from bumping
// the count twice.
type Worker struct {
	store  durable.Store
	logger log.Logger
}

func NewWorker(store durable.Store, logger log.Logger) *Worker {
	return &Worker{store: store, logger: logger.WithComponent("comments-worker")}
}

func (w *Worker) Register(c *queue.Consumer) error {
	return c.Handle(JobAddComment, w.addComment)
}

func (w *Worker) addComment(ctx context.Context, env *queue.Envelope) error {
	var job addJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("comments: decode %s: %w", JobAddComment, err)
	}
	applied, err := durable.WasApplied(ctx, w.store, env.ID)
	if err != nil || applied {
		return err
	}
	c := job.Comment
	doc := map[string]interface{}{
		"postId":      c.PostID,
		"username":    c.Username,
		"avatarColor": c.AvatarColor,
		"comment":     c.Comment,
		"createdAt":   c.CreatedAtMs,
	}
	if err := w.store.Create(ctx, commentsTable, c.ID, doc); err != nil {
		return err
	}
	if err := durable.IgnoreNotFound(w.store.Increment(ctx, postsTable, c.PostID, "commentsCount", 1)); err != nil {
		return err
	}
	return durable.MarkApplied(ctx, w.store, env.ID)
}
