package posts

import (
	"context"
	"errors"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/id"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

// Service runs the post pipeline: cache write, event publish, job enqueue,
// in that order for every mutation.
type Service struct {
	cache  *cache.Store
	bus    *events.Bus
	queue  *queue.Queue
	logger log.Logger
}

func NewService(c *cache.Store, b *events.Bus, q *queue.Queue, logger log.Logger) *Service {
	return &Service{cache: c, bus: b, queue: q, logger: logger.WithComponent("posts")}
}

type createJob struct {
	Post *Post `json:"post"`
}

type updateJob struct {
	PostID string                 `json:"postId"`
	Fields map[string]interface{} `json:"fields"`
}

type deleteJob struct {
	PostID string `json:"postId"`
	UserID string `json:"userId"`
}

// Create caches the post record and its index membership atomically, bumps
// the author's postsCount, notifies clients and schedules the durable write.
func (s *Service) Create(ctx context.Context, p *Post, uid int64) error {
	if p.CreatedAtMs == 0 {
		p.CreatedAtMs = id.NowMs()
	}
	fields, err := fieldMap(p)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serialize post", err)
	}
	if err := s.cache.WriteRecordIndexed(ctx, cache.PostKey(p.ID), fields, cache.PostIndex, uid, p.ID); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache post", err)
	}
	if _, err := s.cache.Increment(ctx, cache.UserKey(p.UserID), "postsCount", 1); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "bump postsCount", err)
	}
	s.publish(ctx, events.AddPost, p)
	if _, err := s.queue.Enqueue(ctx, JobAddPost, createJob{Post: p}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue post create", err)
	}
	return nil
}

// Update rewrites the mutable fields of a cached post and schedules the
// durable merge.
func (s *Service) Update(ctx context.Context, p *Post) error {
	fields := map[string]string{
		"post":           p.Post,
		"bgColor":        p.BgColor,
		"feelings":       p.Feelings,
		"privacy":        p.Privacy,
		"gifUrl":         p.GifURL,
		"profilePicture": p.ProfilePicture,
		"imgId":          p.ImgID,
	}
	if err := s.cache.WriteFields(ctx, cache.PostKey(p.ID), fields); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache post update", err)
	}
	s.publish(ctx, events.UpdatePost, p)
	job := updateJob{PostID: p.ID, Fields: map[string]interface{}{
		"post":           p.Post,
		"bgColor":        p.BgColor,
		"feelings":       p.Feelings,
		"privacy":        p.Privacy,
		"gifUrl":         p.GifURL,
		"profilePicture": p.ProfilePicture,
		"imgId":          p.ImgID,
	}}
	if _, err := s.queue.Enqueue(ctx, JobUpdatePost, job); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue post update", err)
	}
	return nil
}

// Delete strips the post from the cache, its index membership and the
// dependent comment and reaction keys, drops the author's postsCount and
// schedules the durable delete.
func (s *Service) Delete(ctx context.Context, postID, userID string) error {
	memberships := []cache.IndexMembership{cache.Member(cache.PostIndex, postID)}
	err := s.cache.DeleteRecordAndIndices(ctx, cache.PostKey(postID), memberships,
		cache.CommentsKey(postID), cache.ReactionsKey(postID))
	if err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "delete cached post", err)
	}
	if _, err := s.cache.Increment(ctx, cache.UserKey(userID), "postsCount", -1); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "drop postsCount", err)
	}
	s.publish(ctx, events.DeletePost, map[string]string{"postId": postID})
	if _, err := s.queue.Enqueue(ctx, JobDeletePost, deleteJob{PostID: postID, UserID: userID}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue post delete", err)
	}
	return nil
}

// Get reads one post from the cache.
func (s *Service) Get(ctx context.Context, postID string) (*Post, error) {
	fields, err := s.cache.ReadAll(ctx, cache.PostKey(postID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, "post "+postID, err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read post", err)
	}
	return fromFields(fields)
}

// Range returns posts by index rank, newest first. Ids whose record has
// vanished between the index read and the record read are skipped.
func (s *Service) Range(ctx context.Context, start, stop int64) ([]*Post, error) {
	ids, err := s.cache.IndexRange(ctx, cache.PostIndex, start, stop, true)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read post index", err)
	}
	out := make([]*Post, 0, len(ids))
	for _, postID := range ids {
		fields, err := s.cache.ReadAll(ctx, cache.PostKey(postID))
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read post", err)
		}
		p, err := fromFields(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ByUser returns the posts whose index score equals the author's uid.
func (s *Service) ByUser(ctx context.Context, uid int64) ([]*Post, error) {
	ids, err := s.cache.IndexScoreRange(ctx, cache.PostIndex, uid, uid)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read post index", err)
	}
	out := make([]*Post, 0, len(ids))
	for _, postID := range ids {
		fields, err := s.cache.ReadAll(ctx, cache.PostKey(postID))
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read post", err)
		}
		p, err := fromFields(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// publish is best-effort; a backplane hiccup never fails the request.
func (s *Service) publish(ctx context.Context, event string, payload interface{}) {
	if err := s.bus.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("event publish failed", log.Str("event", event), log.Err(err))
	}
}
