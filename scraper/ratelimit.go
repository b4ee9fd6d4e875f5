package scraper

import (
	"sync"
	"time"
)

// RateLimiter implements sliding-window admission control: at most max
// admissions within any trailing window. It never sleeps; callers that are
// denied are expected to wait WaitTime before asking again, which keeps the
// limiter usable from both blocking workers and cooperative tasks.
type RateLimiter struct {
	max    int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time

	now func() time.Time
}

// NewRateLimiter builds a limiter admitting max requests per trailing window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Admit records the current timestamp and returns true iff fewer than max
// admissions fall within the trailing window.
func (l *RateLimiter) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if len(l.stamps) < l.max {
		l.stamps = append(l.stamps, now)
		return true
	}
	return false
}

// WaitTime returns the duration until the oldest recorded admission leaves
// the window, clamped to zero.
func (l *RateLimiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if len(l.stamps) == 0 {
		return 0
	}
	wait := l.window - now.Sub(l.stamps[0])
	if wait < 0 {
		return 0
	}
	return wait
}

// pruneLocked drops timestamps that have left the trailing window. Stamps
// are appended in order, so the slice stays sorted oldest first.
func (l *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
