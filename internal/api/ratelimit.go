// ratelimit.go - Token-bucket rate limiting per caller
package api

import (
	"sync"
	"time"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a bucket holding maxTokens that regains refillRate
// tokens every refillPeriod.
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, refillPeriod, time.Now)
}

func newRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   now(),
		refillPeriod: refillPeriod,
		now:          now,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	refills := int(now.Sub(rl.lastRefill) / rl.refillPeriod)
	if refills > 0 {
		rl.tokens = min(rl.maxTokens, rl.tokens+refills*rl.refillRate)
		// Keep the fractional period so slow trickles still refill.
		rl.lastRefill = rl.lastRefill.Add(time.Duration(refills) * rl.refillPeriod)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// CallerRateLimiter keeps one bucket per caller.
type CallerRateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*RateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

// NewCallerRateLimiter creates a per-caller limiter with the given bucket shape.
func NewCallerRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *CallerRateLimiter {
	return &CallerRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow checks if a request from caller is allowed
func (crl *CallerRateLimiter) Allow(caller string) bool {
	crl.mu.Lock()
	limiter, ok := crl.limiters[caller]
	if !ok {
		limiter = newRateLimiter(crl.maxTokens, crl.refillRate, crl.refillPeriod, crl.now)
		crl.limiters[caller] = limiter
	}
	crl.mu.Unlock()

	return limiter.Allow()
}

// Tokens returns the tokens left for caller
func (crl *CallerRateLimiter) Tokens(caller string) int {
	crl.mu.Lock()
	limiter, ok := crl.limiters[caller]
	crl.mu.Unlock()

	if !ok {
		return crl.maxTokens
	}
	return limiter.Tokens()
}
