package scrape

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HostLimiter hands out one adaptive limiter per host so repeated fetches of
// the same vendor site stay polite.
type HostLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	limiters map[string]*AdaptiveLimiter
}

// NewHostLimiter creates a HostLimiter allowing perSecond requests per host.
// A non-positive rate disables limiting.
func NewHostLimiter(perSecond float64, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		rate:     rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// For returns the limiter for the host of rawURL, or nil when limiting is
// disabled or the URL has no host.
func (h *HostLimiter) For(rawURL string) *AdaptiveLimiter {
	if h == nil || h.rate <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())

	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = NewAdaptiveLimiter(h.rate, h.burst)
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until a request to rawURL is allowed.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if l := h.For(rawURL); l != nil {
		return l.Wait(ctx)
	}
	return nil
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("scrape: reducing host rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
