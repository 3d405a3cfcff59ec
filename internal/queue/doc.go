// Package queue implements Chatty's durable, at-least-once job queues over
// the shared Redis backend.
//
// Producers enqueue fire-and-forget but the enqueue itself is synchronous:
// it returns only once the envelope is durably recorded, and any backend
// failure surfaces to the caller. Consumers dequeue under a lease; a job is
// either completed (removed, no history kept), rescheduled with fixed
// backoff, or, once its attempt budget is exhausted, parked in the
// failed set for operator inspection. Leases left behind by a crashed
// consumer are reclaimed by a periodic sweep, which is what makes delivery
// at-least-once rather than at-most-once.
//
// Ordering is FIFO within one queue; there is no ordering relationship
// across queues or across entities, so handlers must be idempotent and
// order-insensitive.
package queue
