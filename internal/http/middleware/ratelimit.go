package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

// sweep stale in-memory windows once the table grows past this size
const maxTrackedClients = 10000

type clientInfo struct {
	start time.Time
	count int
}

// RateLimiter allows at most max requests per client IP in each fixed window.
// Counters live in Redis when a client is attached, in process memory otherwise.
type RateLimiter struct {
	max    int
	window time.Duration
	redis  *redis.Client

	mu      sync.Mutex
	clients map[string]*clientInfo
	now     func() time.Time
}

func NewRateLimiter(max int, window time.Duration, rdb *redis.Client) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		redis:   rdb,
		clients: make(map[string]*clientInfo),
		now:     time.Now,
	}
}

// Middleware rejects requests over the limit with 429. A max of zero or less disables limiting.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.max <= 0 {
			c.Next()
			return
		}

		route := c.FullPath()
		allowed, err := l.allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			// fail-open: a broken limiter must not take the API down
			c.Header("X-RateLimit-Error", "redis-error")
			RLErrors.WithLabelValues(route).Inc()
			c.Next()
			return
		}
		if !allowed {
			RLBlocked.WithLabelValues(route).Inc()
			c.Header("Retry-After", strconv.Itoa(l.retryAfter()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "rate limit exceeded"})
			return
		}

		RLRequests.WithLabelValues(route).Inc()
		c.Next()
	}
}

// retryAfter is the window in whole seconds, rounded up and never below 1
func (l *RateLimiter) retryAfter() int {
	return max(1, int(math.Ceil(l.window.Seconds())))
}

func (l *RateLimiter) allow(ctx context.Context, ident string) (bool, error) {
	if l.redis != nil {
		return l.allowRedis(ctx, ident)
	}
	return l.allowMemory(ident), nil
}

func (l *RateLimiter) allowMemory(ident string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) > maxTrackedClients {
		for ip, ci := range l.clients {
			if now.Sub(ci.start) > l.window {
				delete(l.clients, ip)
			}
		}
	}

	ci, ok := l.clients[ident]
	if !ok || now.Sub(ci.start) > l.window {
		l.clients[ident] = &clientInfo{start: now, count: 1}
		return true
	}

	ci.count++
	return ci.count <= l.max
}
