// Package antispam implements the per-connection sliding-window message
// rate gate: at most Limit messages within Window, resetting at the
// window boundary.
package antispam

import (
	"sync"
	"time"
)

// Gate is a per-ClientConnection anti-spam counter.
type Gate struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	counter int
	resetAt time.Time
}

// NewGate returns a gate that allows at most limit messages per window.
func NewGate(window time.Duration, limit int) *Gate {
	return &Gate{
		window:  window,
		limit:   limit,
		resetAt: time.Now().Add(window),
	}
}

// Allow records one inbound message and reports whether it is within the
// rate limit. Once tripped, the caller must close the connection; Allow
// does not reset the counter on a trip (the connection is expected to be
// torn down immediately).
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if now.After(g.resetAt) {
		g.counter = 0
		g.resetAt = now.Add(g.window)
	}

	if g.counter >= g.limit {
		return false
	}
	g.counter++
	return true
}
