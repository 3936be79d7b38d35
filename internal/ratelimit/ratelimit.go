// Package ratelimit implements a per-client sliding-window rate limiter
// with three stacked windows: a short burst window, a per-minute window,
// and a per-hour window.
package ratelimit

import (
	"sync"
	"time"
)

// Config holds the window limits. Zero or negative limits disable the
// corresponding window.
type Config struct {
	// PerMinute is the maximum requests per identifier per minute.
	PerMinute int
	// PerHour is the maximum requests per identifier per hour.
	PerHour int
	// Burst is the maximum requests per identifier per 10 seconds.
	Burst int
}

const (
	burstWindow = 10 * time.Second
	hourWindow  = time.Hour
	// staleAfter is how long an identifier may be quiet before its
	// tracking entry is dropped.
	staleAfter = 2 * time.Hour
	// cleanupEvery bounds how often the stale-entry scan runs.
	cleanupEvery = 5 * time.Minute
)

// entry tracks request timestamps for one identifier, oldest first.
type entry struct {
	times []time.Time
}

// prune drops timestamps older than the hour window.
func (e *entry) prune(now time.Time) {
	cutoff := now.Add(-hourWindow)
	i := 0
	for i < len(e.times) && e.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		e.times = append(e.times[:0], e.times[i:]...)
	}
}

// countSince returns how many timestamps fall within the trailing window.
func (e *entry) countSince(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for i := len(e.times) - 1; i >= 0; i-- {
		if e.times[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// Limiter enforces Config limits per identifier (typically client IP).
// Safe for concurrent use.
type Limiter struct {
	cfg Config

	mu          sync.Mutex
	entries     map[string]*entry
	lastCleanup time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter with the given limits.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:         cfg,
		entries:     make(map[string]*entry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow records a request for the identifier and reports whether it is
// within all configured windows. When blocked, reason names the window
// that tripped.
func (l *Limiter) Allow(identifier string) (allowed bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeCleanupLocked(now)

	e, ok := l.entries[identifier]
	if !ok {
		e = &entry{}
		l.entries[identifier] = e
	}
	e.times = append(e.times, now)
	e.prune(now)

	if l.cfg.Burst > 0 && e.countSince(now, burstWindow) > l.cfg.Burst {
		return false, "burst limit exceeded"
	}
	if l.cfg.PerMinute > 0 && e.countSince(now, time.Minute) > l.cfg.PerMinute {
		return false, "too many requests per minute"
	}
	if l.cfg.PerHour > 0 && e.countSince(now, hourWindow) > l.cfg.PerHour {
		return false, "too many requests per hour"
	}
	return true, ""
}

// maybeCleanupLocked drops identifiers that have been quiet past
// staleAfter. Runs at most once per cleanupEvery. Caller must hold l.mu.
func (l *Limiter) maybeCleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < cleanupEvery {
		return
	}
	l.lastCleanup = now
	cutoff := now.Add(-staleAfter)
	for id, e := range l.entries {
		if len(e.times) == 0 || e.times[len(e.times)-1].Before(cutoff) {
			delete(l.entries, id)
		}
	}
}
