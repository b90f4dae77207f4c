// Copyright 2024-2026 Aiku AI

package mirror

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window reservation counter. It self-trims on
// every access; entries only leave by aging out of the window.
type RateLimiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	stamps   []time.Time
}

// NewRateLimiter creates a limiter allowing capacity reservations per
// window.
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	return &RateLimiter{capacity: capacity, window: window}
}

// TryReserve atomically checks for headroom at the given instant and, if
// any remains, records the reservation. Check and grant are one critical
// section, so concurrent callers cannot both take the last slot.
func (l *RateLimiter) TryReserve(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(now)
	if len(l.stamps) >= l.capacity {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// Used reports the number of reservations still inside the window.
func (l *RateLimiter) Used(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(now)
	return len(l.stamps)
}

func (l *RateLimiter) trim(now time.Time) {
	cutoff := now.Add(-l.window)
	for len(l.stamps) > 0 && l.stamps[0].Before(cutoff) {
		l.stamps = l.stamps[1:]
	}
}
