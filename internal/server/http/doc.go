// Package httpserver provides the operational HTTP surface for a Chatty
// instance: health, queue stats, parked-job inspection and requeue, and the
// websocket endpoint onto the event bus.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt)
//	_ = s.ListenAndServe(ctx, ":5000")
package httpserver
