package durable

import (
	"context"
	"errors"
)

// AppliedTable holds one marker document per job whose counter deltas have
// reached the durable store. Delivery is at-least-once; field-set handlers
// absorb a replay naturally, counter deltas do not, so counter-bearing
// handlers check the marker before applying and write it after.
const AppliedTable = "applied_jobs"

// WasApplied reports whether the marker for jobID exists.
func WasApplied(ctx context.Context, s Store, jobID string) (bool, error) {
	_, err := s.Read(ctx, AppliedTable, jobID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkApplied records the marker for jobID. Create is an upsert, so a
// replay that raced past the check still converges on one marker.
func MarkApplied(ctx context.Context, s Store, jobID string) error {
	return s.Create(ctx, AppliedTable, jobID, map[string]interface{}{"jobId": jobID})
}
