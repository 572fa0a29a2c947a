package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fleetbill/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window in-memory limiter. Each key gets a bucket of
// tokens that refills when its window elapses. State lives in process memory,
// so limits apply per instance, which is adequate for protecting a single
// billing API node from a misbehaving integration.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration

	now  func() time.Time
	stop chan struct{}
}

type bucket struct {
	tokens  int
	resetAt time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window and
// starts a background sweep for idle buckets. Call Stop when done.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Stop terminates the background sweep goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// sweep drops buckets that have been idle for two windows so the map does
// not grow with every IP that ever hit the API.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, b := range rl.buckets {
				if now.Sub(b.resetAt) > rl.window {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow consumes a token for key. It reports whether the request may proceed
// and how many tokens remain in the current window.
func (rl *RateLimiter) Allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		rl.buckets[key] = &bucket{tokens: rl.limit - 1, resetAt: now.Add(rl.window)}
		return true, rl.limit - 1
	}
	if b.tokens > 0 {
		b.tokens--
		return true, b.tokens
	}
	return false, 0
}

// clientKey scopes the limit per tenant and client address so one operator's
// burst cannot exhaust another's budget.
func clientKey(c *gin.Context) string {
	key := c.ClientIP()
	if tenantID := c.GetHeader(TenantHeaderKey); tenantID != "" {
		key = tenantID + ":" + key
	}
	return key
}

// RateLimit limits requests keyed by tenant and client IP, and advertises
// the budget through X-RateLimit headers.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return RateLimitByKey(limiter, clientKey)
}

// RateLimitByKey limits requests using a caller-supplied key extractor, for
// routes that need something other than the tenant/IP scope.
func RateLimitByKey(limiter *RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	limit := strconv.Itoa(limiter.limit)
	return func(c *gin.Context) {
		ok, remaining := limiter.Allow(keyFunc(c))

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			abortWithError(c, http.StatusTooManyRequests, dto.ErrCodeRateLimited,
				"Too many requests. Please try again later.")
			return
		}
		c.Next()
	}
}
