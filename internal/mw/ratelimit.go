package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused bucket is kept before eviction.
const limiterIdleTTL = 10 * time.Minute

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ByClientIP buckets requests by client IP.
func ByClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByVerifiedDevice buckets requests by the device SignedRequest authenticated,
// falling back to the client IP. It must run after SignedRequest; an
// unverified X-Device-Id header is never used as a key.
func ByVerifiedDevice(c *gin.Context) string {
	if d, ok := VerifiedDevice(c); ok {
		return "dev:" + d.DeviceID
	}
	return ByClientIP(c)
}

// KeyedRateLimiter stores a rate limiter per key. Idle keys expire.
type KeyedRateLimiter struct {
	limiters *cache.Cache
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

// NewKeyedRateLimiter creates a new KeyedRateLimiter.
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: cache.New(limiterIdleTTL, 2*limiterIdleTTL),
		r:        r,
		b:        b,
	}
}

// GetLimiter returns the rate limiter for a key, creating it if needed.
func (k *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if l, found := k.limiters.Get(key); found {
		// Touch so active keys never expire.
		k.limiters.SetDefault(key, l)
		return l.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(k.r, k.b)
	k.limiters.SetDefault(key, limiter)
	return limiter
}

// RateLimiter is a middleware for keyed rate limiting.
func RateLimiter(r rate.Limit, b int, key KeyFunc) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.GetLimiter(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
