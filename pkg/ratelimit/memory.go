package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. The bucket
// holds Limit tokens and refills Limit tokens per Window.
type MemoryLimiter struct {
	Limit   int
	Window  time.Duration
	IdleTTL time.Duration

	now func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	idle := 2 * window
	if idle < time.Minute {
		idle = time.Minute
	}
	return &MemoryLimiter{
		Limit:   limit,
		Window:  window,
		IdleTTL: idle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(now)
	b, ok := m.buckets[key]
	if !ok {
		every := rate.Limit(float64(m.Limit) / m.Window.Seconds())
		b = &bucket{lim: rate.NewLimiter(every, m.Limit)}
		m.buckets[key] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Limit: m.Limit, RetryAfter: m.Window}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Limit: m.Limit, RetryAfter: delay}, nil
	}
	remaining := int(b.lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: m.Limit, Remaining: remaining}, nil
}

func (m *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < m.IdleTTL {
		return
	}
	for k, b := range m.buckets {
		if now.Sub(b.seen) >= m.IdleTTL {
			delete(m.buckets, k)
		}
	}
	m.lastSweep = now
}

func (m *MemoryLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
