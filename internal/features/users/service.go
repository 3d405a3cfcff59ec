package users

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

// Service caches user snapshots and schedules their durable writes.
type Service struct {
	cache  *cache.Store
	bus    *events.Bus
	queue  *queue.Queue
	logger log.Logger
}

func NewService(c *cache.Store, b *events.Bus, q *queue.Queue, logger log.Logger) *Service {
	return &Service{cache: c, bus: b, queue: q, logger: logger.WithComponent("users")}
}

type addJob struct {
	User *User `json:"user"`
}

type attributeJob struct {
	UserID string      `json:"userId"`
	Field  string      `json:"field"`
	Value  interface{} `json:"value"`
}

// Add caches the snapshot with its `user` index membership and schedules
// the durable insert.
func (s *Service) Add(ctx context.Context, u *User) error {
	if u.CreatedAtMs == 0 {
		u.CreatedAtMs = id.NowMs()
	}
	fields, err := fieldMap(u)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serialize user", err)
	}
	if err := s.cache.WriteRecordIndexed(ctx, cache.UserKey(u.ID), fields, cache.UserIndex, u.UID, u.ID); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache user", err)
	}
	s.publish(ctx, events.AddUser, u)
	if _, err := s.queue.Enqueue(ctx, JobAddUser, addJob{User: u}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue user add", err)
	}
	return nil
}

// Get reads one snapshot from the cache.
func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	fields, err := s.cache.ReadAll(ctx, cache.UserKey(userID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, "user "+userID, err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read user", err)
	}
	return fromFields(fields)
}

// UpdateAttribute sets one profile field on both replicas.
func (s *Service) UpdateAttribute(ctx context.Context, userID, field, value string) error {
	if err := s.cache.WriteFields(ctx, cache.UserKey(userID), map[string]string{field: value}); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "cache user attribute", err)
	}
	s.publish(ctx, events.UpdateUser, map[string]string{"userId": userID, field: value})
	job := attributeJob{UserID: userID, Field: field, Value: value}
	if _, err := s.queue.Enqueue(ctx, JobUpdateAttribute, job); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue attribute update", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event string, payload interface{}) {
	if err := s.bus.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("event publish failed", log.Str("event", event), log.Err(err))
	}
}
