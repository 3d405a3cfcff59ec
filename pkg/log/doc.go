// Package log provides Chatty's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Records flow through a
// configurable formatter/outputs pipeline, so all components emit uniform
// log lines regardless of which process (API server, worker) they run in.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("queue"), log.Str("queue", "post"))
//	l.Info("consumer started", log.Int("concurrency", 5))
//
// Loggers are constructed once at process start and passed into components
// explicitly; there is no package-level default logger.
package log
