package ratelimit

import (
	"sync"
	"time"
)

// memoryLimiter is a per-key token bucket. Each bucket holds up to
// Requests tokens and refills at Requests/Window tokens per second.
type memoryLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	cfg     Config

	ticker *time.Ticker
	stopCh chan struct{}
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryLimiter creates an in-process limiter. Buckets idle for two
// windows are evicted in the background until Stop is called.
func NewMemoryLimiter(cfg Config) Limiter {
	l := &memoryLimiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		ticker:  time.NewTicker(cfg.Window * 2),
		stopCh:  make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

func (l *memoryLimiter) Allow(key string) bool {
	if !l.cfg.Enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	capacity := float64(l.cfg.Requests)

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: capacity - 1, lastUpdate: now}
		return true
	}

	rate := capacity / l.cfg.Window.Seconds()
	b.tokens = min(capacity, b.tokens+now.Sub(b.lastUpdate).Seconds()*rate)
	b.lastUpdate = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *memoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *memoryLimiter) Stop() {
	close(l.stopCh)
}

func (l *memoryLimiter) evictLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.evictIdle()
		case <-l.stopCh:
			l.ticker.Stop()
			return
		}
	}
}

func (l *memoryLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-2 * l.cfg.Window)
	for key, b := range l.buckets {
		if b.lastUpdate.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

var _ Stoppable = (*memoryLimiter)(nil)
