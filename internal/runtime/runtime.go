package runtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/config"
	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/features/chat"
	"github.com/TangoRomeo80/chatty/internal/features/comments"
	"github.com/TangoRomeo80/chatty/internal/features/followers"
	"github.com/TangoRomeo80/chatty/internal/features/images"
	"github.com/TangoRomeo80/chatty/internal/features/notifications"
	"github.com/TangoRomeo80/chatty/internal/features/posts"
	"github.com/TangoRomeo80/chatty/internal/features/reactions"
	"github.com/TangoRomeo80/chatty/internal/features/users"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/id"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config config.Config
	Logger log.Logger

	// Durable overrides the SurrealDB store; tests inject the in-memory
	// implementation here.
	Durable durable.Store
}

// Runtime wires the shared backends and every feature service for one
// process instance. Constructed once at startup, torn down at shutdown.
type Runtime struct {
	cfg    config.Config
	logger log.Logger

	rdb     *redis.Client
	cache   *cache.Store
	bus     *events.Bus
	gateway *events.Gateway
	store   durable.Store

	registry  *queue.Registry
	consumers []*queue.Consumer

	posts         *posts.Service
	users         *users.Service
	followers     *followers.Service
	chat          *chat.Service
	reactions     *reactions.Service
	comments      *comments.Service
	notifications *notifications.Service
	images        *images.Service
}

// Open connects to the backends and builds all components. Workers are
// registered but idle until StartWorkers.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = id.ObjectID()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("runtime: redis %s: %w", cfg.RedisAddr, err)
	}

	store := opts.Durable
	if store == nil {
		var err error
		store, err = durable.OpenSurreal(durable.SurrealOptions{
			URL:       cfg.SurrealURL,
			Namespace: cfg.SurrealNamespace,
			Database:  cfg.SurrealDatabase,
			User:      cfg.SurrealUser,
			Pass:      cfg.SurrealPass,
			Logger:    logger,
		})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
	}

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger.WithComponent("runtime"),
		rdb:      rdb,
		cache:    cache.New(rdb, logger),
		bus:      events.NewBus(rdb, cfg.InstanceID, logger),
		store:    store,
		registry: queue.NewRegistry(),
	}
	rt.gateway = events.NewGateway(rt.bus, logger)

	if err := rt.bus.Start(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	if err := rt.buildPipelines(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.logger.Info("runtime ready",
		log.Str("instance", cfg.InstanceID),
		log.Int("queues", len(rt.consumers)))
	return rt, nil
}

// buildPipelines opens one queue and consumer per feature and hands each
// feature its service and worker registration.
func (rt *Runtime) buildPipelines() error {
	qopts := queue.Options{
		MaxAttempts: rt.cfg.JobMaxAttempts,
		Backoff:     rt.cfg.JobBackoff,
		Lease:       rt.cfg.LeaseDuration,
	}
	copts := queue.ConsumerOptions{Concurrency: rt.cfg.WorkerConcurrency}

	pipelines := []struct {
		name     string
		register func(*queue.Consumer) error
		bind     func(*queue.Queue)
	}{
		{
			name:     posts.QueueName,
			register: posts.NewWorker(rt.store, rt.logger).Register,
			bind:     func(q *queue.Queue) { rt.posts = posts.NewService(rt.cache, rt.bus, q, rt.logger) },
		},
		{
			name:     users.QueueName,
			register: users.NewWorker(rt.store, rt.logger).Register,
			bind:     func(q *queue.Queue) { rt.users = users.NewService(rt.cache, rt.bus, q, rt.logger) },
		},
		{
			name:     followers.QueueName,
			register: followers.NewWorker(rt.store, rt.logger).Register,
			bind:     func(q *queue.Queue) { rt.followers = followers.NewService(rt.cache, rt.bus, q, rt.logger) },
		},
		{
			name:     chat.QueueName,
			register: chat.NewWorker(rt.store, rt.logger).Register,
			bind:     func(q *queue.Queue) { rt.chat = chat.NewService(rt.cache, rt.bus, q, rt.logger) },
		},
		{
			name:     reactions.QueueName,
			register: reactions.NewWorker(rt.store, rt.logger).Register,
			bind:     func(q *queue.Queue) { rt.reactions = reactions.NewService(rt.cache, rt.bus, q, rt.logger) },
		},
		{
			name:     comments.QueueName,
			register: comments.NewWorker(rt.store, rt.logger).Register,
			bind:     func(q *queue.Queue) { rt.comments = comments.NewService(rt.cache, rt.bus, q, rt.logger) },
		},
		{
			name:     notifications.QueueName,
			register: notifications.NewWorker(rt.store, rt.logger).Register,
			bind:     func(q *queue.Queue) { rt.notifications = notifications.NewService(rt.cache, rt.bus, q, rt.logger) },
		},
		{
			name:     images.QueueName,
			register: images.NewWorker(rt.store, rt.logger).Register,
			bind:     func(q *queue.Queue) { rt.images = images.NewService(rt.cache, rt.bus, q, rt.logger) },
		},
	}

	for _, p := range pipelines {
		q := queue.Open(rt.rdb, p.name, qopts, rt.logger)
		if err := rt.registry.Register(q); err != nil {
			return err
		}
		c := queue.NewConsumer(q, copts, rt.logger)
		if err := p.register(c); err != nil {
			return err
		}
		rt.consumers = append(rt.consumers, c)
		p.bind(q)
	}
	return nil
}

// StartWorkers begins consuming on every queue.
func (rt *Runtime) StartWorkers(ctx context.Context) {
	for _, c := range rt.consumers {
		c.Start(ctx)
	}
	rt.logger.Info("workers started", log.Int("consumers", len(rt.consumers)))
}

// Close stops workers and releases every backend connection.
func (rt *Runtime) Close() error {
	for _, c := range rt.consumers {
		c.Close()
	}
	if rt.gateway != nil {
		rt.gateway.Close()
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	var firstErr error
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			firstErr = err
		}
	}
	if rt.rdb != nil {
		if err := rt.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CheckHealth verifies both shared backends are reachable.
func (rt *Runtime) CheckHealth(ctx context.Context) error {
	if err := rt.cache.Ping(ctx); err != nil {
		return err
	}
	return rt.store.Ping(ctx)
}

// Config returns the effective configuration.
func (rt *Runtime) Config() config.Config { return rt.cfg }

// Registry exposes queue stats to the operational surface.
func (rt *Runtime) Registry() *queue.Registry { return rt.registry }

// Gateway is the websocket endpoint onto the event bus.
func (rt *Runtime) Gateway() *events.Gateway { return rt.gateway }

// Bus is the process-wide event bus.
func (rt *Runtime) Bus() *events.Bus { return rt.bus }

// Cache is the shared cache store.
func (rt *Runtime) Cache() *cache.Store { return rt.cache }

// Feature services.

func (rt *Runtime) Posts() *posts.Service                 { return rt.posts }
func (rt *Runtime) Users() *users.Service                 { return rt.users }
func (rt *Runtime) Followers() *followers.Service         { return rt.followers }
func (rt *Runtime) Chat() *chat.Service                   { return rt.chat }
func (rt *Runtime) Reactions() *reactions.Service         { return rt.reactions }
func (rt *Runtime) Comments() *comments.Service           { return rt.comments }
func (rt *Runtime) Notifications() *notifications.Service { return rt.notifications }
func (rt *Runtime) Images() *images.Service               { return rt.images }
