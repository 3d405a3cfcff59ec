// Package events implements Chatty's real-time fan-out layer.
//
// Publish delivers a named event to every subscriber attached to the local
// process and then to a shared Redis broadcast channel; sibling instances
// relay backplane traffic to their own subscribers, which is what lets the
// real-time layer scale horizontally without every client connecting to
// the same process. Delivery is best-effort: a disconnected client simply
// misses the event, and a slow subscriber is dropped rather than allowed
// to block the publisher. Per-publisher call order is preserved; there is
// no global order across publishers.
package events
