// Package comments appends comments to a post and keeps the commentsCount
// replicas converging.
package comments

import (
	"context"
	"encoding/json"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/id"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	QueueName = "comments"

	JobAddComment = "addCommentToDB"
)

// Comment is one comment as cached in its post's list.
type Comment struct {
	ID          string `json:"_id"`
	PostID      string `json:"postId"`
	Username    string `json:"username"`
	AvatarColor string `json:"avatarColor"`
	Comment     string `json:"comment"`
	CreatedAtMs int64  `json:"createdAt"`
}

type Service struct {
	cache  *cache.Store
	bus    *events.Bus
	queue  *queue.Queue
	logger log.Logger
}

func NewService(c *cache.Store, b *events.Bus, q *queue.Queue, logger log.Logger) *Service {
	return &Service{cache: c, bus: b, queue: q, logger: logger.WithComponent("comments")}
}

type addJob struct {
	Comment *Comment `json:"comment"`
}

// Add appends the comment, bumps the post's commentsCount and schedules
// the durable insert plus its own counter bump.
func (s *Service) Add(ctx context.Context, c *Comment) error {
	if c.CreatedAtMs == 0 {
		c.CreatedAtMs = id.NowMs()
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serialize comment", err)
	}
	if err := s.cache.ListAppend(ctx, cache.CommentsKey(c.PostID), string(raw)); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache comment", err)
	}
	if _, err := s.cache.Increment(ctx, cache.PostKey(c.PostID), "commentsCount", 1); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "bump commentsCount", err)
	}
	s.publish(ctx, events.AddComment, c)
	if _, err := s.queue.Enqueue(ctx, JobAddComment, addJob{Comment: c}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue comment", err)
	}
	return nil
}

// List returns a post's comments in insertion order.
func (s *Service) List(ctx context.Context, postID string) ([]*Comment, error) {
	raws, err := s.cache.ListRange(ctx, cache.CommentsKey(postID), 0, -1)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read comments", err)
	}
	out := make([]*Comment, 0, len(raws))
	for _, raw := range raws {
		var c Comment
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode comment", err)
		}
		out = append(out, &c)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, event string, payload interface{}) {
	if err := s.bus.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("event publish failed", log.Str("event", event), log.Err(err))
	}
}
