// Package notifications marks and removes user notifications. Creation
// happens inside other features' workers; this package owns the two
// client-driven mutations, both of which tolerate the durable record
// being gone already.
package notifications

import (
	"context"
	"encoding/json"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	QueueName = "notifications"

	JobUpdateNotification = "updateNotificationInDB"
	JobDeleteNotification = "deleteNotificationFromDB"
)

// Notification is one entry in a user's cached notification list.
type Notification struct {
	ID          string `json:"_id"`
	UserTo      string `json:"userTo"`
	UserFrom    string `json:"userFrom"`
	Message     string `json:"message"`
	Type        string `json:"notificationType"`
	Read        bool   `json:"read"`
	CreatedAtMs int64  `json:"createdAt"`
}

type Service struct {
	cache  *cache.Store
	bus    *events.Bus
	queue  *queue.Queue
	logger log.Logger
}

func NewService(c *cache.Store, b *events.Bus, q *queue.Queue, logger log.Logger) *Service {
	return &Service{cache: c, bus: b, queue: q, logger: logger.WithComponent("notifications")}
}

type idJob struct {
	NotificationID string `json:"notificationId"`
}

// List returns the user's cached notifications.
func (s *Service) List(ctx context.Context, userID string) ([]*Notification, error) {
	raws, err := s.cache.ListRange(ctx, cache.NotificationsKey(userID), 0, -1)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCacheUnavailable, "read notifications", err)
	}
	out := make([]*Notification, 0, len(raws))
	for _, raw := range raws {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode notification", err)
		}
		out = append(out, &n)
	}
	return out, nil
}

// MarkRead flips the read flag on one notification.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	idx, n, err := s.find(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	n.Read = true
	raw, err := json.Marshal(n)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "serialize notification", err)
	}
	if err := s.cache.ListSet(ctx, cache.NotificationsKey(userID), idx, string(raw)); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "mark notification read", err)
	}
	s.publish(ctx, events.UpdateNotification, n)
	if _, err := s.queue.Enqueue(ctx, JobUpdateNotification, idJob{NotificationID: notificationID}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue notification update", err)
	}
	return nil
}

// Delete removes one notification from the user's list.
func (s *Service) Delete(ctx context.Context, userID, notificationID string) error {
	raws, err := s.cache.ListRange(ctx, cache.NotificationsKey(userID), 0, -1)
	if err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "read notifications", err)
	}
	for _, raw := range raws {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return apperr.Wrap(apperr.KindInternal, "decode notification", err)
		}
		if n.ID == notificationID {
			if err := s.cache.ListRemove(ctx, cache.NotificationsKey(userID), raw); err != nil {
				return apperr.Wrap(apperr.KindCacheUnavailable, "remove notification", err)
			}
			break
		}
	}
	s.publish(ctx, events.DeleteNotification, idJob{NotificationID: notificationID})
	if _, err := s.queue.Enqueue(ctx, JobDeleteNotification, idJob{NotificationID: notificationID}); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue notification delete", err)
	}
	return nil
}

func (s *Service) find(ctx context.Context, userID, notificationID string) (int64, *Notification, error) {
	raws, err := s.cache.ListRange(ctx, cache.NotificationsKey(userID), 0, -1)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindCacheUnavailable, "read notifications", err)
	}
	for i, raw := range raws {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return 0, nil, apperr.Wrap(apperr.KindInternal, "decode notification", err)
		}
		if n.ID == notificationID {
			return int64(i), &n, nil
		}
	}
	return 0, nil, apperr.New(apperr.KindNotFound, "notification "+notificationID)
}

func (s *Service) publish(ctx context.Context, event string, payload interface{}) {
	if err := s.bus.Publish(ctx, event, payload); err != nil {
		s.logger.Warn("event publish failed", log.Str("event", event), log.Err(err))
	}
}
