// Package guard protects the dialog engine from flooding and hostile input.
package guard

import (
	"sync"
	"time"
)

const (
	DefaultWindow   = 60 * time.Second
	DefaultMax      = 30
	DefaultBlockFor = 900 * time.Second
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed bool
	// Blocked is true only on the event that started a block, so the caller
	// can notify the user once instead of on every dropped event.
	Blocked    bool
	RetryAfter time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts events per user in fixed windows and blocks users that
// exceed the limit.
type Limiter struct {
	mu      sync.Mutex
	windows map[int64]*window
	blocked map[int64]time.Time

	window   time.Duration
	limit    int
	blockFor time.Duration
	now      func() time.Time
}

// NewLimiter builds a Limiter; non-positive values fall back to defaults.
func NewLimiter(windowSize time.Duration, limit int, blockFor time.Duration) *Limiter {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultMax
	}
	if blockFor <= 0 {
		blockFor = DefaultBlockFor
	}

	return &Limiter{
		windows:  make(map[int64]*window),
		blocked:  make(map[int64]time.Time),
		window:   windowSize,
		limit:    limit,
		blockFor: blockFor,
		now:      time.Now,
	}
}

// Allow records one event for the user and reports whether it may proceed.
func (l *Limiter) Allow(userID int64) Decision {
	if l == nil || userID == 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if until, ok := l.blocked[userID]; ok {
		if now.Before(until) {
			return Decision{RetryAfter: until.Sub(now)}
		}
		delete(l.blocked, userID)
	}

	w, ok := l.windows[userID]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		l.windows[userID] = w
	}
	w.count++

	if w.count > l.limit {
		until := now.Add(l.blockFor)
		l.blocked[userID] = until
		delete(l.windows, userID)
		return Decision{Blocked: true, RetryAfter: l.blockFor}
	}

	return Decision{Allowed: true}
}

// Sweep drops expired windows and blocks. It returns the number of entries
// removed.
func (l *Limiter) Sweep() int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, id)
			removed++
		}
	}
	for id, until := range l.blocked {
		if !now.Before(until) {
			delete(l.blocked, id)
			removed++
		}
	}
	return removed
}

// Blocked reports whether the user is currently blocked.
func (l *Limiter) Blocked(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.blocked[userID]
	return ok && l.now().Before(until)
}
