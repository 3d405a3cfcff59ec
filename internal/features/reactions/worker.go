package reactions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	reactionsTable = "reactions"
	postsTable     = "posts"
)

// Worker replays reaction mutations. The reaction document id is derived
// from (username, post), so an add replaces rather than duplicates. The
// durable tallies move by the same symmetric deltas the cache saw, guarded
// by a per-job applied marker so a redelivery never double-counts.
type Worker struct {
	store  durable.Store
	logger log.Logger
}

func NewWorker(store durable.Store, logger log.Logger) *Worker {
	return &Worker{store: store, logger: logger.WithComponent("reactions-worker")}
}

func (w *Worker) Register(c *queue.Consumer) error {
	handlers := map[string]queue.HandlerFunc{
		JobAddReaction:    w.addReaction,
		JobRemoveReaction: w.removeReaction,
	}
	for name, fn := range handlers {
		if err := c.Handle(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) addReaction(ctx context.Context, env *queue.Envelope) error {
	var job addJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("reactions: decode %s: %w", JobAddReaction, err)
	}
	applied, err := durable.WasApplied(ctx, w.store, env.ID)
	if err != nil || applied {
		return err
	}
	r := job.Reaction
	doc := map[string]interface{}{
		"postId":         r.PostID,
		"username":       r.Username,
		"avatarColor":    r.AvatarColor,
		"profilePicture": r.ProfilePicture,
		"type":           r.Type,
	}
	if err := w.store.Create(ctx, reactionsTable, ReactionID(r.Username, r.PostID), doc); err != nil {
		return err
	}
	if err := w.adjustTallies(ctx, r.PostID, job.PreviousType, r.Type); err != nil {
		return err
	}
	return durable.MarkApplied(ctx, w.store, env.ID)
}

func (w *Worker) removeReaction(ctx context.Context, env *queue.Envelope) error {
	var job removeJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("reactions: decode %s: %w", JobRemoveReaction, err)
	}
	applied, err := durable.WasApplied(ctx, w.store, env.ID)
	if err != nil || applied {
		return err
	}
	if err := durable.IgnoreNotFound(w.store.Delete(ctx, reactionsTable, ReactionID(job.Username, job.PostID))); err != nil {
		return err
	}
	if err := w.adjustTallies(ctx, job.PostID, job.PreviousType, ""); err != nil {
		return err
	}
	return durable.MarkApplied(ctx, w.store, env.ID)
}

func (w *Worker) adjustTallies(ctx context.Context, postID, previousType, newType string) error {
	if previousType != "" {
		err := w.store.Increment(ctx, postsTable, postID, "reactions."+previousType, -1)
		if err := durable.IgnoreNotFound(err); err != nil {
			return err
		}
	}
	if newType != "" {
		err := w.store.Increment(ctx, postsTable, postID, "reactions."+newType, 1)
		if err := durable.IgnoreNotFound(err); err != nil {
			return err
		}
	}
	return nil
}
