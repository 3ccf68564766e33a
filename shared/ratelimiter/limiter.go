// Package ratelimiter counts requests per (identity, endpoint class) in fixed
// windows that open on the first request.
package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller must wait for the window to reset.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

type entry struct {
	count   int
	resetAt time.Time
}

// WindowLimiter is the in-process limiter. The increment and the ceiling check
// happen under one lock, so concurrent requests are never under-counted.
type WindowLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	items     map[string]*entry
	lastSweep time.Time
	now       func() time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{
		limit:  limit,
		window: window,
		items:  make(map[string]*entry),
		now:    time.Now,
	}
}

func (l *WindowLimiter) Allow(_ context.Context, key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(now)
	}

	e, ok := l.items[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{resetAt: now.Add(l.window)}
		l.items[key] = e
	}
	e.count++
	return decide(e.count, l.limit, e.resetAt)
}

// Len reports tracked keys.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// sweep drops windows that already closed. Must be called with mu held.
func (l *WindowLimiter) sweep(now time.Time) {
	for k, e := range l.items {
		if !now.Before(e.resetAt) {
			delete(l.items, k)
		}
	}
	l.lastSweep = now
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
