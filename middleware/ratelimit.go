package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ByClient charges authenticated requests to the user and the rest to the
// client IP. Players share room devices, so one bucket per IP would let
// one team starve another.
func ByClient(c *gin.Context) string {
	if uid := GetUserID(c); uid != "" {
		return "u:" + uid
	}
	return "ip:" + c.ClientIP()
}

// RateLimit provides token-bucket rate limiting, r requests per second with
// burst b per key. Idle buckets are dropped until ctx ends.
func RateLimit(ctx context.Context, r rate.Limit, b int, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClient
	}
	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			cutoff := time.Now().Add(-10 * time.Minute)
			mu.Lock()
			for k, bk := range buckets {
				if bk.lastSeen.Before(cutoff) {
					delete(buckets, k)
				}
			}
			mu.Unlock()
		}
	}()

	allow := func(k string) bool {
		mu.Lock()
		defer mu.Unlock()
		bk, ok := buckets[k]
		if !ok {
			bk = &bucket{limiter: rate.NewLimiter(r, b)}
			buckets[k] = bk
		}
		bk.lastSeen = time.Now()
		return bk.limiter.Allow()
	}

	return func(c *gin.Context) {
		if !allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
