// Package cache implements the authoritative read/write path for
// user-facing state, backed by a Redis instance shared by every Chatty
// process.
//
// Records are field maps keyed by "<entity-kind>:<id>"; listing and
// pagination go through sorted indexes scored by uid. Multi-field writes
// and record deletions execute inside MULTI/EXEC so readers never observe
// a partially written record or a dangling index member. Counters are only
// ever mutated with atomic increments, which keeps concurrent requests and
// replayed jobs commutative.
//
// If the backend is unreachable every operation fails with ErrUnavailable
// and the calling handler must fail the whole request; nothing may be
// enqueued for a mutation the cache never accepted.
package cache
