// Package ratelimit provides the API gateway's two throttling layers:
// a per-client token-bucket limiter and a per-URL submission cooldown.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientLimiter is a per-key token-bucket rate limiter. Keys are
// typically client IPs or API keys. Grounded on the teacher's
// MemoryRateLimitStore (struct-of-map-plus-mutex, periodic Cleanup),
// generalized from a hand-rolled bucket to golang.org/x/time/rate.
type ClientLimiter struct {
	mu              sync.Mutex
	limiters        map[string]*rate.Limiter
	ratePerSecond   float64
	burst           int
	maxKeys         int
	lastClean       time.Time
	cleanupInterval time.Duration
	logger          *zap.Logger
}

// NewClientLimiter builds a limiter allowing ratePerSecond sustained
// requests per key with burst capacity burst.
func NewClientLimiter(ratePerSecond float64, burst int, cleanupInterval time.Duration, logger *zap.Logger) *ClientLimiter {
	return &ClientLimiter{
		limiters:        make(map[string]*rate.Limiter),
		ratePerSecond:   ratePerSecond,
		burst:           burst,
		maxKeys:         10000,
		lastClean:       time.Now(),
		cleanupInterval: cleanupInterval,
		logger:          logger,
	}
}

// Allow reports whether a request for key may proceed right now,
// consuming a token if so.
func (c *ClientLimiter) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, exists := c.limiters[key]
	if !exists {
		if len(c.limiters) >= c.maxKeys {
			c.cleanupLocked()
		}
		limiter = rate.NewLimiter(rate.Limit(c.ratePerSecond), c.burst)
		c.limiters[key] = limiter
	}
	return limiter.Allow()
}

// cleanupLocked drops limiters that are back at full burst capacity
// (a proxy for "idle"), bounded to run at most once per
// cleanupInterval. Caller must hold c.mu.
func (c *ClientLimiter) cleanupLocked() {
	now := time.Now()
	if now.Sub(c.lastClean) < c.cleanupInterval {
		return
	}
	c.lastClean = now

	removed := 0
	for key, limiter := range c.limiters {
		if limiter.Tokens() >= float64(c.burst) {
			delete(c.limiters, key)
			removed++
		}
	}
	if removed > 0 && c.logger != nil {
		c.logger.Debug("cleaned up idle rate limiters", zap.Int("count", removed))
	}
}

// Cooldown tracks the per-URL submission cooldown (default 30s, per
// spec §4.1): a second scan request for the same URL within the
// window is rejected with 429 and a retryAfterSeconds hint.
type Cooldown struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
}

// NewCooldown builds a Cooldown tracker with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, lastSeen: make(map[string]time.Time)}
}

// Check reports whether url is currently within its cooldown window.
// When true, retryAfter is the number of seconds the caller should
// wait before retrying. Check also records the attempt as the new
// "last seen" time when the URL is NOT in cooldown, matching a
// submit-then-record semantics (a rejected submission never resets
// the window).
func (c *Cooldown) Check(url string) (inCooldown bool, retryAfter int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	last, ok := c.lastSeen[url]
	if ok {
		elapsed := now.Sub(last)
		if elapsed < c.window {
			remaining := c.window - elapsed
			return true, int(remaining.Seconds()) + 1
		}
	}

	c.lastSeen[url] = now
	return false, 0
}
