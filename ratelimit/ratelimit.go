// Package ratelimit enforces minimum inter-request spacing per domain.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token per domain per configured window. Burst is
// fixed at 1 so two consecutive requests to the same domain are always
// separated by at least the window.
type Limiter struct {
	defaultWindow time.Duration
	windows       map[string]time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a limiter with a default window and optional per-domain
// windows from the override table.
func New(defaultWindow time.Duration, windows map[string]time.Duration) *Limiter {
	normalized := make(map[string]time.Duration, len(windows))
	for domain, window := range windows {
		if window > 0 {
			normalized[strings.ToLower(domain)] = window
		}
	}
	return &Limiter{
		defaultWindow: defaultWindow,
		windows:       normalized,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the domain's next request slot is free or ctx is done.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	return l.limiter(domain).Wait(ctx)
}

// Window reports the effective spacing for a domain.
func (l *Limiter) Window(domain string) time.Duration {
	if w, ok := l.windows[strings.ToLower(domain)]; ok {
		return w
	}
	return l.defaultWindow
}

func (l *Limiter) limiter(domain string) *rate.Limiter {
	key := strings.ToLower(domain)

	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	window := l.Window(key)
	var lim *rate.Limiter
	if window <= 0 {
		lim = rate.NewLimiter(rate.Inf, 1)
	} else {
		lim = rate.NewLimiter(rate.Every(window), 1)
	}
	l.limiters[key] = lim
	return lim
}
