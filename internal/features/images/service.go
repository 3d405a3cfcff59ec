// Package images tracks profile and background images: the user snapshot
// fields are the serving state, an image document per upload is the
// durable history.
package images

import (
	"context"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/id"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	QueueName = "images"

	JobAddImage    = "addImageToDB"
	JobRemoveImage = "removeImageFromDB"
)

// Image kinds.
const (
	KindProfile    = "profile"
	KindBackground = "background"
)

type Service struct {
	cache  *cache.Store
	bus    *events.Bus
	queue  *queue.Queue
	logger log.Logger
}

func NewService(c *cache.Store, b *events.Bus, q *queue.Queue, logger log.Logger) *Service {
	return &Service{cache: c, bus: b, queue: q, logger: logger.WithComponent("images")}
}

type addJob struct {
	ImageID    string `json:"imageId"`
	UserID     string `json:"userId"`
	Kind       string `json:"kind"`
	ImgID      string `json:"imgId"`
	ImgVersion string `json:"imgVersion"`
	URL        string `json:"url"`
}

type removeJob struct {
	ImageID string `json:"imageId"`
	UserID  string `json:"userId"`
	Kind    string `json:"kind"`
}

// AddProfilePicture sets the user's profile picture URL and records the
// upload. Returns the new image document id.
func (s *Service) AddProfilePicture(ctx context.Context, userID, url string) (string, error) {
	if err := s.cache.WriteFields(ctx, cache.UserKey(userID), map[string]string{"profilePicture": url}); err != nil {
		return "", apperr.Wrap(apperr.KindCacheUnavailable, "cache profile picture", err)
	}
	s.publish(ctx, map[string]string{"userId": userID, "profilePicture": url})
	imageID := id.ObjectID()
	job := addJob{ImageID: imageID, UserID: userID, Kind: KindProfile, URL: url}
	if _, err := s.queue.Enqueue(ctx, JobAddImage, job); err != nil {
		return "", apperr.Wrap(apperr.KindEnqueueFailure, "enqueue image add", err)
	}
	return imageID, nil
}

// AddBackgroundImage sets the background image fields and records the
// upload. Returns the new image document id.
func (s *Service) AddBackgroundImage(ctx context.Context, userID, imgID, imgVersion string) (string, error) {
	fields := map[string]string{"bgImageId": imgID, "bgImageVersion": imgVersion}
	if err := s.cache.WriteFields(ctx, cache.UserKey(userID), fields); err != nil {
		return "", apperr.Wrap(apperr.KindCacheUnavailable, "cache background image", err)
	}
	s.publish(ctx, map[string]string{"userId": userID, "bgImageId": imgID, "bgImageVersion": imgVersion})
	imageID := id.ObjectID()
	job := addJob{ImageID: imageID, UserID: userID, Kind: KindBackground, ImgID: imgID, ImgVersion: imgVersion}
	if _, err := s.queue.Enqueue(ctx, JobAddImage, job); err != nil {
		return "", apperr.Wrap(apperr.KindEnqueueFailure, "enqueue image add", err)
	}
	return imageID, nil
}

// RemoveBackgroundImage clears the background fields and deletes the image
// document.
func (s *Service) RemoveBackgroundImage(ctx context.Context, userID, imageID string) error {
	fields := map[string]string{"bgImageId": "", "bgImageVersion": ""}
	if err := s.cache.WriteFields(ctx, cache.UserKey(userID), fields); err != nil {
		return apperr.Wrap(apperr.KindCacheUnavailable, "clear background image", err)
	}
	s.publish(ctx, map[string]string{"userId": userID, "bgImageId": "", "bgImageVersion": ""})
	job := removeJob{ImageID: imageID, UserID: userID, Kind: KindBackground}
	if _, err := s.queue.Enqueue(ctx, JobRemoveImage, job); err != nil {
		return apperr.Wrap(apperr.KindEnqueueFailure, "enqueue image removal", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, payload interface{}) {
	if err := s.bus.Publish(ctx, events.UpdateUser, payload); err != nil {
		s.logger.Warn("event publish failed", log.Str("event", events.UpdateUser), log.Err(err))
	}
}
