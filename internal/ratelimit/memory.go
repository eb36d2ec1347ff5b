package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counters idle longer than this are dropped on the next sweep, so the
// map does not grow with every account key ever throttled.
const memoryIdleSeconds = 60

// memoryWindow is one key's counter for a single second.
type memoryWindow struct {
	sec   int64
	count int
}

// MemoryLimiter counts fixed one-second windows in process memory. It is
// the default backend and the fallback while Redis is unreachable; its
// counts are per instance, not shared across replicas.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]memoryWindow
	lastSweep int64
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]memoryWindow)}
}

// Allow counts the request in its one-second window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(sec)

	window := l.windows[key]
	if window.sec != sec {
		window = memoryWindow{sec: sec}
	}
	if window.count >= limit {
		l.windows[key] = window
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	window.count++
	l.windows[key] = window
	return Result{Allowed: true, Remaining: limit - window.count, Reset: reset}, nil
}

// sweep drops counters whose window passed long ago. Runs at most once
// per idle interval, under the caller's lock.
func (l *MemoryLimiter) sweep(sec int64) {
	if sec-l.lastSweep < memoryIdleSeconds {
		return
	}
	l.lastSweep = sec
	for key, window := range l.windows {
		if sec-window.sec > 1 {
			delete(l.windows, key)
		}
	}
}
