package lowpan

import (
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/lowpan/internal/core"
)

// sourceWindow counts the fragments of one link source since start.
type sourceWindow struct {
	start time.Time
	count int
}

// SourceRateLimiter caps the number of fragments accepted from one link
// source within a window. Each source has its own window, opened by its
// first fragment. Short and extended addresses are distinct sources.
type SourceRateLimiter struct {
	mu      sync.Mutex
	sources map[string]*sourceWindow // raw link address bytes
	window  time.Duration
	max     int

	rejected atomic.Int64
}

// SourceRateLimiterConfig configures per-source fragment rate limiting.
type SourceRateLimiterConfig struct {
	MaxFragsPerSource int           // 0 disables limiting
	Window            time.Duration // default 10s
}

// NewSourceRateLimiter creates a rate limiter, or returns nil when
// limiting is disabled. A nil limiter allows everything.
func NewSourceRateLimiter(cfg SourceRateLimiterConfig) *SourceRateLimiter {
	if cfg.MaxFragsPerSource <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &SourceRateLimiter{
		sources: make(map[string]*sourceWindow),
		window:  cfg.Window,
		max:     cfg.MaxFragsPerSource,
	}
}

// Allow records a fragment from source at now and reports whether it is
// within the limit. Frames without a link source share one budget.
func (l *SourceRateLimiter) Allow(source core.LinkAddr, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.sources[string(source)]
	if !ok || now.Sub(w.start) >= l.window {
		w = &sourceWindow{start: now}
		l.sources[string(source)] = w
	}
	w.count++
	if w.count > l.max {
		l.rejected.Add(1)
		return false
	}
	return true
}

// Prune forgets sources whose window has closed at now.
func (l *SourceRateLimiter) Prune(now time.Time) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.sources {
		if now.Sub(w.start) >= l.window {
			delete(l.sources, key)
		}
	}
}

// Rejected returns the total number of rejected fragments.
func (l *SourceRateLimiter) Rejected() int64 {
	if l == nil {
		return 0
	}
	return l.rejected.Load()
}

// ActiveSources returns the number of sources with an open window.
func (l *SourceRateLimiter) ActiveSources() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources)
}
