package relay

import (
	"sync"
	"time"
)

// publishLimiter caps how many frames one connection may publish per sliding window.
type publishLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	events []time.Time
}

// newPublishLimiter allows up to limit publishes per window. A non-positive
// window or limit disables limiting.
func newPublishLimiter(window time.Duration, limit int, timeSource func() time.Time) *publishLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &publishLimiter{window: window, limit: limit, now: timeSource}
}

// Allow reports whether another publish fits in the current window and records it if so.
func (l *publishLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	//1.- Events are appended in time order so expired ones form a prefix.
	expired := 0
	for expired < len(l.events) && !l.events[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		l.events = append(l.events[:0], l.events[expired:]...)
	}
	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}
