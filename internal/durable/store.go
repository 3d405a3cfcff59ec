// Package durable defines the system-of-record interface and its backends.
//
// Mutations reach the durable store only through queue workers, never from
// request handlers; the cache is the authoritative read path while jobs
// drain. ErrNotFound is part of the contract: at-least-once delivery can
// replay an update or delete after the record is already gone, and workers
// treat that as a successful no-op.
package durable

import (
	"context"
	"errors"
)

// ErrNotFound reports that the target record does not exist. For update
// and delete mutations this is terminal success, not failure.
var ErrNotFound = errors.New("durable: record not found")

// Store is the document database the write-behind pipeline converges into.
// All errors other than ErrNotFound are considered transient and retried
// by the queue.
type Store interface {
	// Create inserts or fully replaces the document under table:id. Replace
	// semantics keep job replays under at-least-once delivery harmless.
	Create(ctx context.Context, table, id string, doc map[string]interface{}) error

	// Update merges fields into an existing document. ErrNotFound when the
	// document does not exist.
	Update(ctx context.Context, table, id string, fields map[string]interface{}) error

	// Delete removes a document. ErrNotFound when it is already gone.
	Delete(ctx context.Context, table, id string) error

	// Increment atomically adjusts a numeric field. ErrNotFound when the
	// document does not exist.
	Increment(ctx context.Context, table, id, field string, delta int64) error

	// Read returns a document. Used by recovery tooling and tests; the
	// serving read path is the cache.
	Read(ctx context.Context, table, id string) (map[string]interface{}, error)

	// Ping verifies backend reachability.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// IgnoreNotFound turns ErrNotFound into success. Worker handlers use it on
// update and delete mutations, where a missing target means an earlier
// delivery already did the work.
func IgnoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
