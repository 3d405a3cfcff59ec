package followers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	followersTable = "followers"
	usersTable     = "users"
)

// Worker replays follow-graph mutations. The edge write is an upsert and
// the edge delete ignores a missing record. The counter deltas are guarded
// by a per-job applied marker, and follow and unfollow carry symmetric
// deltas so they cancel exactly whichever order their jobs drain in.
type Worker struct {
	store  durable.Store
	logger log.Logger
}

func NewWorker(store durable.Store, logger log.Logger) *Worker {
	return &Worker{store: store, logger: logger.WithComponent("followers-worker")}
}

func (w *Worker) Register(c *queue.Consumer) error {
	handlers := map[string]queue.HandlerFunc{
		JobAddFollower:       w.addFollower,
		JobRemoveFollower:    w.removeFollower,
		JobAddBlockedUser:    w.addBlockedUser,
		JobRemoveBlockedUser: w.removeBlockedUser,
	}
	for name, fn := range handlers {
		if err := c.Handle(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) addFollower(ctx context.Context, env *queue.Envelope) error {
	var job edgeJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("followers: decode %s: %w", JobAddFollower, err)
	}
	applied, err := durable.WasApplied(ctx, w.store, env.ID)
	if err != nil || applied {
		return err
	}
	edge := map[string]interface{}{
		"followerId": job.FollowerID,
		"followeeId": job.FolloweeID,
	}
	if err := w.store.Create(ctx, followersTable, EdgeID(job.FollowerID, job.FolloweeID), edge); err != nil {
		return err
	}
	if err := w.adjustCounts(ctx, job, 1); err != nil {
		return err
	}
	return durable.MarkApplied(ctx, w.store, env.ID)
}

func (w *Worker) removeFollower(ctx context.Context, env *queue.Envelope) error {
	var job edgeJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("followers: decode %s: %w", JobRemoveFollower, err)
	}
	applied, err := durable.WasApplied(ctx, w.store, env.ID)
	if err != nil || applied {
		return err
	}
	if err := durable.IgnoreNotFound(w.store.Delete(ctx, followersTable, EdgeID(job.FollowerID, job.FolloweeID))); err != nil {
		return err
	}
	if err := w.adjustCounts(ctx, job, -1); err != nil {
		return err
	}
	return durable.MarkApplied(ctx, w.store, env.ID)
}

func (w *Worker) adjustCounts(ctx context.Context, job edgeJob, delta int64) error {
	if err := durable.IgnoreNotFound(w.store.Increment(ctx, usersTable, job.FollowerID, "followingCount", delta)); err != nil {
		return err
	}
	return durable.IgnoreNotFound(w.store.Increment(ctx, usersTable, job.FolloweeID, "followersCount", delta))
}

func (w *Worker) addBlockedUser(ctx context.Context, env *queue.Envelope) error {
	var job blockJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("followers: decode %s: %w", JobAddBlockedUser, err)
	}
	return w.editDurableBlockLists(ctx, job, true)
}

func (w *Worker) removeBlockedUser(ctx context.Context, env *queue.Envelope) error {
	var job blockJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("followers: decode %s: %w", JobRemoveBlockedUser, err)
	}
	return w.editDurableBlockLists(ctx, job, false)
}

// editDurableBlockLists rewrites the blocked/blockedBy arrays on both user
// documents. Set-style membership keeps replays idempotent.
func (w *Worker) editDurableBlockLists(ctx context.Context, job blockJob, add bool) error {
	if err := w.editIDList(ctx, job.UserID, "blocked", job.BlockedID, add); err != nil {
		return err
	}
	return w.editIDList(ctx, job.BlockedID, "blockedBy", job.UserID, add)
}

func (w *Worker) editIDList(ctx context.Context, userID, field, member string, add bool) error {
	doc, err := w.store.Read(ctx, usersTable, userID)
	if err != nil {
		return durable.IgnoreNotFound(err)
	}
	ids := stringList(doc[field])
	if add {
		for _, existing := range ids {
			if existing == member {
				return nil
			}
		}
		ids = append(ids, member)
	} else {
		kept := ids[:0]
		for _, existing := range ids {
			if existing != member {
				kept = append(kept, existing)
			}
		}
		ids = kept
	}
	return durable.IgnoreNotFound(w.store.Update(ctx, usersTable, userID, map[string]interface{}{field: ids}))
}

// stringList coerces a stored array back to []string; JSON decoding and the
// in-memory store hand the value back in different shapes.
func stringList(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return append([]string(nil), vals...)
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
