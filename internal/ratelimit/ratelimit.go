// Package ratelimit throttles WebSocket upgrades per client IP.
package ratelimit

import (
	"sync"
	"time"
)

// IPLimiter tracks upgrade attempts per IP within a sliding window. A limiter
// with max <= 0 allows everything.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewIPLimiter creates an IPLimiter allowing max upgrades per window.
func NewIPLimiter(max int, window time.Duration) *IPLimiter {
	return &IPLimiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether ip may upgrade now and records the attempt if so.
// When denied, retryAfter is how long until the oldest attempt in the window
// expires.
func (l *IPLimiter) Allow(ip string) (ok bool, retryAfter time.Duration) {
	if l.max <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := l.prune(ip, now)
	if len(valid) >= l.max {
		return false, valid[0].Add(l.window).Sub(now)
	}
	l.entries[ip] = append(valid, now)
	return true, 0
}

// Sweep drops every IP whose attempts have all expired.
func (l *IPLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip := range l.entries {
		l.prune(ip, now)
	}
}

// prune removes expired attempts for ip. Must be called while holding mu.
func (l *IPLimiter) prune(ip string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	timestamps := l.entries[ip]
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(l.entries, ip)
		return nil
	}
	l.entries[ip] = valid
	return valid
}

// Len returns the number of IPs currently tracked.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
