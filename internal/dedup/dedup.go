package dedup

import (
	"context"
	"sync"
	"time"
)

// Result of a claim attempt.
type Result int

const (
	// FirstSeen means the key is now marked and the caller may proceed.
	FirstSeen Result = iota
	// Duplicate means the key was already marked within its TTL window.
	Duplicate
	// Unavailable means the backing store could not be reached. Callers
	// must fail closed and treat this like Duplicate.
	Unavailable
)

func (r Result) String() string {
	switch r {
	case FirstSeen:
		return "first_seen"
	case Duplicate:
		return "duplicate"
	default:
		return "unavailable"
	}
}

// Guard answers "have I seen this key before?" atomically. Concurrent
// claims on the same key yield exactly one FirstSeen.
type Guard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) Result
}

// Memory is an in-process guard for tests and single-instance runs.
type Memory struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{expires: make(map[string]time.Time), now: time.Now}
}

// NewMemoryWithClock allows tests to control time.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{expires: make(map[string]time.Time), now: now}
}

func (m *Memory) Claim(_ context.Context, key string, ttl time.Duration) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.expires[key]; ok && now.Before(exp) {
		return Duplicate
	}
	m.expires[key] = now.Add(ttl)
	// Opportunistic purge so the map does not grow unbounded.
	if len(m.expires) > 4096 {
		for k, exp := range m.expires {
			if now.After(exp) {
				delete(m.expires, k)
			}
		}
	}
	return FirstSeen
}
