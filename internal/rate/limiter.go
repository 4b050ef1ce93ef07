package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines token bucket parameters for one caller.
type Config struct {
	// Rate is the refill rate in tokens per second.
	Rate  float64
	Burst int
}

// PerMinute builds a Config that admits n requests per minute with a burst of n.
func PerMinute(n int) Config {
	return Config{Rate: float64(n) / 60.0, Burst: n}
}

// PerSecond builds a Config that admits n requests per second with the given burst.
func PerSecond(n, burst int) Config {
	return Config{Rate: float64(n), Burst: burst}
}

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64
	now    func() time.Time
}

// New creates a new limiter with a full bucket.
func New(cfg Config) *Limiter {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Limiter {
	return &Limiter{
		tokens: float64(cfg.Burst),
		last:   now(),
		rate:   cfg.Rate,
		burst:  float64(cfg.Burst),
		now:    now,
	}
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens >= 1 {
		l.tokens -= 1
		return true
	}
	return false
}

// idleSince reports the time of the last Allow call.
func (l *Limiter) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Wait blocks until a token becomes available or context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Manager holds per-key limiters. A zero Rate disables limiting.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
	now      func() time.Time
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
		now:      time.Now,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := newWithClock(m.defaults, m.now)
	m.limiters[key] = lim
	return lim
}

func (m *Manager) disabled() bool {
	return m.defaults.Rate <= 0 || m.defaults.Burst <= 0
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	if m.disabled() {
		return nil
	}
	return m.GetLimiter(key).Wait(ctx)
}

// Allow takes a token for key without blocking.
func (m *Manager) Allow(key string) bool {
	if m.disabled() {
		return true
	}
	return m.GetLimiter(key).Allow()
}

// Prune drops limiters that have been idle for at least idle and returns how many were removed.
// An idle bucket has refilled, so dropping it loses no state.
func (m *Manager) Prune(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, lim := range m.limiters {
		if !lim.idleSince().After(cutoff) {
			delete(m.limiters, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}
