package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a sliding-window limiter kept in process memory.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

func (sw *slidingWindow) tryConsume(limit int, now time.Time) Result {
	sw.cleanupExpired(now)
	if len(sw.timestamps) >= limit {
		return refused(limit, sw.timestamps[0].Add(sw.window), now)
	}
	sw.timestamps = append(sw.timestamps, now)
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(sw.window),
	}
}

func (sw *slidingWindow) cleanupExpired(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// NewMemory creates an empty in-memory limiter.
func NewMemory() *Memory {
	return &Memory{windows: make(map[string]*slidingWindow)}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sw, ok := m.windows[key]
	if !ok {
		sw = &slidingWindow{window: window}
		m.windows[key] = sw
	}
	sw.window = window
	return sw.tryConsume(limit, now), nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
	return nil
}

// Sweep drops windows with no events newer than now minus their window.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, sw := range m.windows {
		sw.cleanupExpired(now)
		if len(sw.timestamps) == 0 {
			delete(m.windows, k)
			n++
		}
	}
	return n
}
