// Package server implements a fixed-window rate limiter keyed by connection
// and action that protects the gateway from abuse.
package server

import (
	"context"
	"log"
	"sync"
	"time"
)

type limiterKey struct {
	connectionID string
	action       string
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts actions per (connection, action) pair over a fixed
// window. Counters are created lazily on first use and removed by a
// periodic sweep once their window has passed.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[limiterKey]*windowCounter
}

// NewRateLimiter creates a limiter allowing limit actions per window for
// each (connection, action) pair.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &RateLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[limiterKey]*windowCounter),
	}
}

// Admit records one action and reports whether it fits in the current
// window. The first action after a window expires starts a fresh one.
func (rl *RateLimiter) Admit(connectionID, action string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	key := limiterKey{connectionID: connectionID, action: action}

	entry, ok := rl.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		rl.entries[key] = &windowCounter{count: 1, resetAt: now.Add(rl.window)}
		return true
	}

	entry.count++
	return entry.count <= rl.limit
}

// Sweep removes counters whose window has expired and returns how many were
// removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range rl.entries {
		if !now.Before(entry.resetAt) {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of live counters.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.entries)
}

// Run sweeps expired counters once per window until ctx is canceled.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := rl.Sweep(); removed > 0 {
				log.Printf("Rate limiter sweep removed %d expired counters", removed)
			}
		}
	}
}
