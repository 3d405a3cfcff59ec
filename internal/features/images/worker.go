package images

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

const (
	imagesTable = "images"
	usersTable  = "users"
)

// Worker replays image mutations into the image history table and the
// owning user document.
type Worker struct {
	store  durable.Store
	logger log.Logger
}

func NewWorker(store durable.Store, logger log.Logger) *Worker {
	return &Worker{store: store, logger: logger.WithComponent("images-worker")}
}

func (w *Worker) Register(c *queue.Consumer) error {
	handlers := map[string]queue.HandlerFunc{
		JobAddImage:    w.addImage,
		JobRemoveImage: w.removeImage,
	}
	for name, fn := range handlers {
		if err := c.Handle(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) addImage(ctx context.Context, env *queue.Envelope) error {
	var job addJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("images: decode %s: %w", JobAddImage, err)
	}
	doc := map[string]interface{}{
		"userId":     job.UserID,
		"kind":       job.Kind,
		"imgId":      job.ImgID,
		"imgVersion": job.ImgVersion,
		"url":        job.URL,
	}
	if err := w.store.Create(ctx, imagesTable, job.ImageID, doc); err != nil {
		return err
	}
	var fields map[string]interface{}
	switch job.Kind {
	case KindProfile:
		fields = map[string]interface{}{"profilePicture": job.URL}
	case KindBackground:
		fields = map[string]interface{}{"bgImageId": job.ImgID, "bgImageVersion": job.ImgVersion}
	default:
		return fmt.Errorf("images: unknown kind %q", job.Kind)
	}
	return durable.IgnoreNotFound(w.store.Update(ctx, usersTable, job.UserID, fields))
}

func (w *Worker) removeImage(ctx context.Context, env *queue.Envelope) error {
	var job removeJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return fmt.Errorf("images: decode %s: %w", JobRemoveImage, err)
	}
	if err := durable.IgnoreNotFound(w.store.Delete(ctx, imagesTable, job.ImageID)); err != nil {
		return err
	}
	if job.Kind != KindBackground {
		return nil
	}
	fields := map[string]interface{}{"bgImageId": "", "bgImageVersion": ""}
	return durable.IgnoreNotFound(w.store.Update(ctx, usersTable, job.UserID, fields))
}
