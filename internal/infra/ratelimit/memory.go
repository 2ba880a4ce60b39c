package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"medledger/internal/domain"
)

var ErrCapacity = errors.New("rate limiter capacity exceeded")

// MemoryLimiter counts requests per key in fixed windows held in process
// memory. Expired windows are swept lazily when the key table is full.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	maxKeys int
	windows map[string]*window
}

type window struct {
	used int
	ends time.Time
}

func NewMemoryLimiter(maxKeys int, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &MemoryLimiter{
		now:     now,
		maxKeys: maxKeys,
		windows: make(map[string]*window),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, size time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.ends) {
		if !ok && len(m.windows) >= m.maxKeys {
			m.sweep(now)
			if len(m.windows) >= m.maxKeys {
				return domain.RateLimitDecision{}, ErrCapacity
			}
		}
		w = &window{ends: now.Add(size)}
		m.windows[key] = w
	}

	if w.used >= limit {
		return domain.RateLimitDecision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: w.ends}, nil
	}
	w.used++
	return domain.RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - w.used,
		ResetAt:   w.ends,
	}, nil
}

func (m *MemoryLimiter) sweep(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.ends) {
			delete(m.windows, key)
		}
	}
}

var _ domain.RateLimiter = (*MemoryLimiter)(nil)
