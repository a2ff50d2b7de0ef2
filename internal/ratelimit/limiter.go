// Package ratelimit provides the token bucket that gates every outbound
// forge API call. A single Limiter instance is shared by all orchestrators
// in the process so the global API budget holds across concurrent syncs.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults sized for the GitHub authenticated limit of 5000 requests/hour,
// with a reserve held back for interactive operations.
const (
	DefaultMaxRequests   = 4800
	DefaultWindow        = time.Hour
	DefaultReserveTokens = 200
)

// Status is a point-in-time snapshot of the bucket.
type Status struct {
	Available          int `json:"available_tokens"`
	Max                int `json:"max_tokens"`
	UtilizationPercent int `json:"utilization_percent"`
}

// Limiter is a token bucket with paced release. Acquire blocks until tokens
// are available and then sleeps a per-request delay so calls spread evenly
// over the window instead of bursting.
type Limiter struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	window     time.Duration
	lastRefill time.Time
	minDelay   time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// New builds a Limiter allowing maxRequests-reserve acquisitions per window.
// The reserve is never handed out.
func New(maxRequests int, window time.Duration, reserve int) *Limiter {
	capacity := maxRequests - reserve
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		capacity:   capacity,
		tokens:     capacity,
		window:     window,
		lastRefill: time.Now(),
		minDelay:   window / time.Duration(maxRequests),
		now:        time.Now,
	}
}

// NewDefault builds a Limiter with the GitHub-sized defaults.
func NewDefault() *Limiter {
	return New(DefaultMaxRequests, DefaultWindow, DefaultReserveTokens)
}

// Acquire blocks until n tokens are available, consumes them, then applies
// the pacing delay. Returns early with ctx.Err() if the context is done
// while waiting.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	l.mu.Lock()
	l.refill()
	for l.tokens < n {
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		l.mu.Lock()
		l.refill()
	}
	l.tokens -= n
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.minDelay):
	}
	return nil
}

// refill credits floor(elapsed * capacity/window) tokens, at most once per
// second, never exceeding capacity. Caller holds the mutex.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed < time.Second {
		return
	}
	rate := float64(l.capacity) / l.window.Seconds()
	add := int(elapsed.Seconds() * rate)
	l.tokens += add
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefill = now
}

// Status reports available tokens and utilization after a refill pass.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Status{
		Available:          l.tokens,
		Max:                l.capacity,
		UtilizationPercent: int((1 - float64(l.tokens)/float64(l.capacity)) * 100),
	}
}
