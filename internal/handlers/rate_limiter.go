package handlers

import (
	"net"
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per source within a fixed window.
// Keys are remote addresses; the port is stripped so one caller cannot
// widen its budget by rotating ephemeral ports.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*sourceWindow
}

type sourceWindow struct {
	seen      int
	expiresAt time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*sourceWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	source := normalizeSource(key)

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	win := l.windows[source]
	if win == nil || !now.Before(win.expiresAt) {
		l.evictExpiredLocked(now)
		l.windows[source] = &sourceWindow{seen: 1, expiresAt: now.Add(l.window)}
		return true
	}

	if win.seen >= l.limit {
		return false
	}
	win.seen++
	return true
}

func (l *fixedWindowLimiter) evictExpiredLocked(now time.Time) {
	for source, win := range l.windows {
		if !now.Before(win.expiresAt) {
			delete(l.windows, source)
		}
	}
}

func normalizeSource(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(key); err == nil && host != "" {
		return host
	}
	return key
}
