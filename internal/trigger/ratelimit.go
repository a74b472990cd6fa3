// Package trigger receives external events (webhooks, manual fires) and
// turns them into prompts dispatched through the bridge.
//
// ratelimit.go - Per-webhook rate limiting

package trigger

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// globalKey shares one bucket across all webhooks
const globalKey = "__global__"

// RateLimiter provides per-webhook token-bucket rate limiting
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a rate limiter allowing perMinute requests per
// webhook, with a burst of the same size.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// getLimiter returns the rate limiter for a given key (webhook ID)
func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = r.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(r.rate, r.burst)
	r.limiters[key] = limiter
	return limiter
}

// Allow checks if a request should be allowed for the given webhook,
// consuming both the webhook's bucket and the shared global bucket.
func (r *RateLimiter) Allow(key string) bool {
	if !r.getLimiter(key).Allow() {
		return false
	}
	return r.getLimiter(globalKey).Allow()
}
