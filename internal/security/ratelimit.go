// Package security implements the Security Middleware (C9): a sliding-window
// rate limiter and a pattern-based input sanitizer, both invoked ahead of
// any other work on every core entry point.
package security

import (
	"sync"
	"time"
)

// Decision is the outcome of CheckAndConsume.
type Decision struct {
	Allowed          bool
	RetryAfterSeconds float64
	Remaining        int
}

// RateLimitStats tracks admissions and violations for one principal.
type RateLimitStats struct {
	Admitted   int64
	Violations int64
}

// RateLimiter is a sliding-window limiter keyed per principal. Unlike the
// token-bucket approach, admission depends only on how many timestamps fall
// within the trailing window, which is what CheckAndConsume's contract
// requires: at most max_requests admissions in any window_seconds interval.
type RateLimiter struct {
	maxRequests   int
	windowSeconds float64

	mu    sync.Mutex
	deques map[string][]time.Time
	stats  map[string]*RateLimitStats
}

// NewRateLimiter builds a limiter admitting at most maxRequests calls per
// principal in any trailing windowSeconds interval.
func NewRateLimiter(maxRequests int, windowSeconds float64) *RateLimiter {
	return &RateLimiter{
		maxRequests:   maxRequests,
		windowSeconds: windowSeconds,
		deques:        make(map[string][]time.Time),
		stats:         make(map[string]*RateLimitStats),
	}
}

// CheckAndConsume drops timestamps older than now-window_seconds, then
// admits iff fewer than max_requests remain, pushing now on admission.
func (l *RateLimiter) CheckAndConsume(principal string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Duration(l.windowSeconds * float64(time.Second)))

	deque := l.deques[principal]
	deque = dropOlderThan(deque, cutoff)

	st := l.statsFor(principal)

	if len(deque) < l.maxRequests {
		deque = append(deque, now)
		l.deques[principal] = deque
		st.Admitted++
		return Decision{Allowed: true, Remaining: l.maxRequests - len(deque)}
	}

	l.deques[principal] = deque
	st.Violations++
	oldest := deque[0]
	retryAfter := l.windowSeconds - now.Sub(oldest).Seconds()
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter, Remaining: 0}
}

// Reset clears principal's deque and counters, returning it to initial state.
func (l *RateLimiter) Reset(principal string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.deques, principal)
	delete(l.stats, principal)
}

// StatsFor returns a snapshot of principal's admission/violation counters.
func (l *RateLimiter) StatsFor(principal string) RateLimitStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.stats[principal]; ok {
		return *st
	}
	return RateLimitStats{}
}

func (l *RateLimiter) statsFor(principal string) *RateLimitStats {
	st, ok := l.stats[principal]
	if !ok {
		st = &RateLimitStats{}
		l.stats[principal] = st
	}
	return st
}

func dropOlderThan(deque []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(deque) && deque[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return deque
	}
	return append(deque[:0], deque[i:]...)
}
