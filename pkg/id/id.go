// Package id provides identifier generation for Chatty entities.
//
// Every entity gets two identifiers: an object id (opaque UUID string used
// as the record key) and a uid (int64 used as the score in sorted indexes).
// Uids are time-ordered and per-process monotonic, so index ranges paginate
// in creation order even when the system clock misbehaves.
package id

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NowMs returns current time in milliseconds since Unix epoch. Overridable
// in tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// ObjectID returns a new opaque record identifier.
func ObjectID() string { return uuid.NewString() }

// Generator produces monotonically increasing uids per process.
//
// A uid packs [44 bits ms_timestamp][20 bits sequence] into a positive
// int64, which keeps numeric comparison chronological and leaves room for
// ~1M uids per millisecond before the generator waits for the next tick.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence int64
}

const seqBits = 20
const maxSeq = (1 << seqBits) - 1

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// Next returns a new uid. If the clock goes backwards, it pins to the last
// seen millisecond and increments the sequence; if the sequence would
// overflow within a millisecond it waits for the next one.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		if g.sequence == maxSeq {
			for {
				ms = NowMs()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms
	return makeUID(ms, g.sequence)
}

func makeUID(ms, seq int64) int64 {
	v := (ms << seqBits) | seq
	if v < 0 {
		// 44-bit ms overflow is ~year 2527; clamp rather than emit negatives.
		return math.MaxInt64
	}
	return v
}
