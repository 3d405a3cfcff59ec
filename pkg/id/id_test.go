package id

import (
	"testing"
	"time"
)

func restoreClock() { NowMs = func() int64 { return time.Now().UnixMilli() } }

func TestOrderingMonotonic(t *testing.T) {
	g := NewGenerator()
	NowMs = func() int64 { return 1000 }
	defer restoreClock()

	a := g.Next()
	b := g.Next()
	if a >= b {
		t.Fatalf("expected a<b, got %d %d", a, b)
	}
}

func TestClockRegressionGuard(t *testing.T) {
	g := NewGenerator()
	now := int64(1000)
	NowMs = func() int64 { return now }
	defer restoreClock()

	a := g.Next()
	now = 900 // clock went backwards
	b := g.Next()
	if a >= b {
		t.Fatalf("expected b>a despite clock regression")
	}
}

func TestSequenceOverflowWaitsNextMs(t *testing.T) {
	g := NewGenerator()
	NowMs = func() int64 { return 2000 }
	defer restoreClock()

	g.lastMs = 2000
	g.sequence = maxSeq - 1
	_ = g.Next() // sequence hits maxSeq

	done := make(chan struct{})
	go func() {
		_ = g.Next() // must wait for next ms and reset
		close(done)
	}()

	time.AfterFunc(10*time.Millisecond, func() { NowMs = func() int64 { return 2001 } })

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for overflow handling")
	}
}

func TestObjectIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v := ObjectID()
		if v == "" || seen[v] {
			t.Fatalf("duplicate or empty object id %q", v)
		}
		seen[v] = true
	}
}
