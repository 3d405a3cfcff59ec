package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TangoRomeo80/chatty/pkg/id"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

// HandlerFunc executes the durable mutation for one job. Handlers must be
// idempotent: the queue may deliver the same envelope more than once, and
// env.ID is the stable identity a handler can key its replay guard on.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// ConsumerOptions tune the polling loops. Zero values take defaults.
type ConsumerOptions struct {
	Concurrency   int           // worker goroutines, default 5
	PollInterval  time.Duration // idle sleep between dequeues, default 100ms
	SweepInterval time.Duration // retry promotion + lease reclaim cadence, default 1s
}

// Consumer drains one queue with bounded concurrency, dispatching each
// envelope to the handler registered for its job name.
type Consumer struct {
	q        *Queue
	opts     ConsumerOptions
	handlers map[string]HandlerFunc
	logger   log.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewConsumer creates a Consumer for q. Handlers are registered before
// Start; registration after Start is a programming error.
func NewConsumer(q *Queue, opts ConsumerOptions, logger log.Logger) *Consumer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	return &Consumer{
		q:        q,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With(log.Component("consumer"), log.Str("queue", q.Name())),
	}
}

// Handle registers the handler for a job name.
func (c *Consumer) Handle(jobName string, fn HandlerFunc) error {
	if c.cancel != nil {
		return fmt.Errorf("consumer %s: handler registered after start", c.q.Name())
	}
	if _, exists := c.handlers[jobName]; exists {
		return fmt.Errorf("consumer %s: duplicate handler for %q", c.q.Name(), jobName)
	}
	c.handlers[jobName] = fn
	return nil
}

// Start launches the worker pool and the maintenance sweep. It returns
// immediately; Close stops everything and waits.
func (c *Consumer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		for i := 0; i < c.opts.Concurrency; i++ {
			c.wg.Add(1)
			go c.workLoop(ctx)
		}
		c.wg.Add(1)
		go c.sweepLoop(ctx)
		c.logger.Info("consumer started", log.Int("concurrency", c.opts.Concurrency))
	})
}

// Close stops the consumer and waits for in-flight handlers to return.
func (c *Consumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Consumer) workLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		env, err := c.q.Dequeue(ctx, id.NowMs())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("dequeue failed", log.Err(err))
			c.sleep(ctx, c.opts.PollInterval)
			continue
		}
		if env == nil {
			c.sleep(ctx, c.opts.PollInterval)
			continue
		}
		c.execute(ctx, env)
	}
}

func (c *Consumer) execute(ctx context.Context, env *Envelope) {
	handler, ok := c.handlers[env.Name]
	if !ok {
		// No handler will ever succeed; park immediately for the operator.
		env.Attempts = env.MaxAttempts
		_, _ = c.q.Fail(ctx, env, fmt.Errorf("no handler for job %q", env.Name), id.NowMs())
		return
	}
	if err := handler(ctx, env); err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-job: leave the lease to expire so a sibling
			// instance re-runs the job.
			return
		}
		if _, failErr := c.q.Fail(ctx, env, err, id.NowMs()); failErr != nil {
			c.logger.Error("fail bookkeeping failed", log.Str("id", env.ID), log.Err(failErr))
		}
		return
	}
	if err := c.q.Complete(ctx, env.ID); err != nil {
		c.logger.Error("complete bookkeeping failed", log.Str("id", env.ID), log.Err(err))
	}
}

func (c *Consumer) sweepLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := id.NowMs()
			if _, err := c.q.PromoteRetries(ctx, now); err != nil && ctx.Err() == nil {
				c.logger.Error("retry promotion failed", log.Err(err))
			}
			if _, err := c.q.ReclaimExpired(ctx, now); err != nil && ctx.Err() == nil {
				c.logger.Error("lease reclaim failed", log.Err(err))
			}
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
