// Package runtime wires the shared backends, the event bus and every
// feature pipeline into a single Chatty instance. It exposes Open/Close,
// worker startup and health checks.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
//	rt.StartWorkers(ctx)
//	_ = rt.Posts().Create(ctx, post, uid)
package runtime
