// Package ratelimit provides token-bucket limiters: a keyed Limiter that
// rejects callers over budget, and a Pacer that blocks until a token is free.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket tracks the token-bucket state for a single key.
type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// refill adds tokens proportionally to elapsed time, capped at capacity.
func (b *bucket) refill(now time.Time, perSecond, capacity float64) {
	elapsed := now.Sub(b.lastCheck)
	b.lastCheck = now
	b.tokens += elapsed.Seconds() * perSecond
	if b.tokens > capacity {
		b.tokens = capacity
	}
}

// Limiter implements an in-memory keyed token-bucket rate limiter.
// Tokens refill at a rate of (limit / window) per second.
type Limiter struct {
	mu        sync.Mutex
	entries   map[string]*bucket
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a rate limiter with the given refill window.
// Each key gets `limit` tokens per window, refilled continuously.
func New(window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string]*bucket),
		window:  window,
		now:     time.Now,
	}
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	e, exists := l.entries[key]
	if !exists {
		l.entries[key] = &bucket{
			tokens:    float64(limit - 1),
			lastCheck: now,
		}
		return limit > 0
	}

	e.refill(now, float64(limit)/l.window.Seconds(), float64(limit))
	if e.tokens < 1 {
		return false
	}
	e.tokens--
	return true
}

// Reset clears the rate-limit state for a specific key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// sweep drops idle keys at most once per window. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-2 * l.window)
	for key, e := range l.entries {
		if e.lastCheck.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Pacer spaces outgoing calls to a single upstream so that at most
// perSecond requests start per second, with bursts up to burst.
type Pacer struct {
	mu        sync.Mutex
	b         bucket
	perSecond float64
	burst     float64
	now       func() time.Time
}

// NewPacer returns a Pacer. A non-positive rate disables pacing.
func NewPacer(perSecond float64, burst int) *Pacer {
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		b:         bucket{tokens: float64(burst), lastCheck: time.Now()},
		perSecond: perSecond,
		burst:     float64(burst),
		now:       time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.perSecond <= 0 {
		return ctx.Err()
	}
	for {
		delay := p.reserve()
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve takes a token if one is free and otherwise returns how long to wait.
func (p *Pacer) reserve() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.b.refill(p.now(), p.perSecond, p.burst)
	if p.b.tokens >= 1 {
		p.b.tokens--
		return 0
	}
	missing := 1 - p.b.tokens
	return time.Duration(missing / p.perSecond * float64(time.Second))
}
