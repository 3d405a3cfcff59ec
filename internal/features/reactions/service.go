// Package reactions keeps the per-post reaction list and the tallies on
// the post record in step with the durable store. One user holds at most
// one reaction per post; adding a different type replaces the previous
// one.
package reactions

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/features/posts"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	QueueName = "reactions"

	JobAddReaction    = "addReactionToDB"
	JobRemoveReaction = "removeReactionFromDB"
)

// ReactionID is the deterministic id of a user's reaction on a post.
func ReactionID(username, postID string) string {
	return username + ":" + postID
}

// Reaction is one user's reaction to one post.
type Reaction struct {
	PostID         string `json:"postId"`
	Username       string `json:"username"`
	AvatarColor    string `json:"avatarColor"`
	ProfilePicture string `json:"profilePicture"`
	Type           string `json:"type"`
}

type Service struct {
	cache  *cache.Store
	bus    *events.Bus
	queue  *queue.Queue
	logger log.Logger
}

func NewService(c *cache.Store, b *events.Bus, q *queue.Queue, logger log.Logger) *Service {
	return &Service{cache: c, bus: b, queue: q, logger: logger.WithComponent("reactions")}
}

type addJob struct {
	Reaction     *Reaction `json:"reaction"`
	PreviousType string    `json:"previousType"`
}

type removeJob struct {
	PostID       string `json:"postId"`
	Username     string `json:"username"`
	PreviousType string `json:"previousType"`
}

// Add records or replaces the user's reaction on a post and adjusts the
// tallies carried on the post record. previousType is empty for a first
// reaction.
func (s *Service) Add(ctx context.Context, r *Reaction, previousType string) error {
	if err := s.adjustTallies(ctx, r.PostID, previousType, r.Type); err != nil {
		return err
	}
	if err := s.replaceListEntry(ctx, r.PostID, r.Username, r); err != nil {
		return err
	}
	s.publishTallies(ctx, r.PostID)
	if _, err := s.queue.Enqueue(ctx, JobAddReaction, addJob{Reaction: r, PreviousType: previousType}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue reaction", err)
	}
	return nil
}

// Remove withdraws the user's reaction of the given type.
func (s *Service) Remove(ctx context.Context, postID, username, previousType string) error {
	if err := s.adjustTallies(ctx, postID, previousType, ""); err != nil {
		return err
	}
	if err := s.replaceListEntry(ctx, postID, username, nil); err != nil {
		return err
	}
	s.publishTallies(ctx, postID)
	job := removeJob{PostID: postID, Username: username, PreviousType: previousType}
	if _, err := s.queue.Enqueue(ctx, JobRemoveReaction, job); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue reaction removal", err)
	}
	return nil
}

// List returns every reaction cached for a post.
func (s *Service) List(ctx context.Context, postID string) ([]*Reaction, error) {
	raws, err := s.cache.ListRange(ctx, cache.ReactionsKey(postID), 0, -1)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read reactions", err)
	}
	out := make([]*Reaction, 0, len(raws))
	for _, raw := range raws {
		var r Reaction
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode reaction", err)
		}
		out = append(out, &r)
	}
	return out, nil
}

// adjustTallies rewrites the `reactions` field on the post record,
// dropping the previous type and counting the new one.
func (s *Service) adjustTallies(ctx context.Context, postID, previousType, newType string) error {
	raw, err := s.cache.ReadField(ctx, cache.PostKey(postID), "reactions")
	if errors.Is(err, cache.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, "post "+postID, err)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "read reaction tallies", err)
	}
	var tallies posts.Reactions
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &tallies); err != nil {
			return apperr.Wrap(apperr.KindInternal, "decode reaction tallies", err)
		}
	}
	if previousType != "" {
		tallies.Add(previousType, -1)
	}
	if newType != "" {
		tallies.Add(newType, 1)
	}
	out, err := json.Marshal(tallies)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode reaction tallies", err)
	}
	if err := s.cache.WriteFields(ctx, cache.PostKey(postID), map[string]string{"reactions": string(out)}); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "write reaction tallies", err)
	}
	return nil
}

// replaceListEntry drops the user's existing entry from the post's
// reaction list and, when r is non-nil, pushes the replacement.
func (s *Service) replaceListEntry(ctx context.Context, postID, username string, r *Reaction) error {
	raws, err := s.cache.ListRange(ctx, cache.ReactionsKey(postID), 0, -1)
	if err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "read reactions", err)
	}
	for _, raw := range raws {
		var existing Reaction
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return apperr.Wrap(apperr.KindInternal, "decode reaction", err)
		}
		if existing.Username == username {
			if err := s.cache.ListRemove(ctx, cache.ReactionsKey(postID), raw); err != nil {
				return apperr.Wrap(apperr.KindCacheUnavailable, "remove reaction", err)
			}
			break
		}
	}
	if r == nil {
		return nil
	}
	out, err := json.Marshal(r)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode reaction", err)
	}
	if err := s.cache.ListPush(ctx, cache.ReactionsKey(postID), string(out)); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache reaction", err)
	}
	return nil
}

// publishTallies sends the post's updated tallies to connected clients.
func (s *Service) publishTallies(ctx context.Context, postID string) {
	raw, err := s.cache.ReadField(ctx, cache.PostKey(postID), "reactions")
	if err != nil {
		s.logger.Warn("read tallies for publish failed", log.Str("postId", postID), log.Err(err))
		return
	}
	payload := map[string]interface{}{"postId": postID, "reactions": json.RawMessage(raw)}
	if err := s.bus.Publish(ctx, events.AddReaction, payload); err != nil {
		s.logger.Warn("event publish failed", log.Str("event", events.AddReaction), log.Err(err))
	}
}
