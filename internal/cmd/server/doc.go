// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// the Chatty runtime with its workers and HTTP server, handling lifecycle and
// shutdown.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: config.Default()})
package serverrun
