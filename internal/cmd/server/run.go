package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/TangoRomeo80/chatty/internal/config"
	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/runtime"
	httpserver "github.com/TangoRomeo80/chatty/internal/server/http"
	logpkg "github.com/TangoRomeo80/chatty/pkg/log"
)

type Options struct {
	Config config.Config

	// Durable overrides the SurrealDB store; tests inject the in-memory
	// implementation here.
	Durable durable.Store
}

// Run starts the runtime, its workers and the HTTP server, then blocks until
// ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context
	// or if signal delivery needs to be observed here. We layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config

	lvl := logpkg.InfoLevel
	if l, err := logpkg.ParseLevel(cfg.LogLevel); err == nil {
		lvl = l
	}
	var formatter logpkg.Formatter = &logpkg.TextFormatter{}
	if cfg.LogFormat == "json" {
		formatter = &logpkg.JSONFormatter{}
	}
	procLogger := logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(formatter))

	// Redirect stdlib logs (e.g., net/http) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: procLogger, Durable: opts.Durable})
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.StartWorkers(sctx)

	procLogger.Info("Starting Chatty server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("redis", cfg.RedisAddr),
		logpkg.Str("surreal", cfg.SurrealURL),
		logpkg.Str("instance", rt.Config().InstanceID),
		logpkg.Str("level", lvl.String()),
		logpkg.Str("format", cfg.LogFormat),
	)

	hsrv := httpserver.New(rt)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server failed", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	// Shut the HTTP surface down before the runtime so in-flight handlers
	// never observe closed backends.
	hsrv.Close()
	wg.Wait()
	return nil
}
