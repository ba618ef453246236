package middleware

import (
	"context"
	"strconv"
	"time"

	"taskd/internal/logger"

	redis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis for shared rate-limit counters.
// Returns nil when addr is empty or the server does not answer, in which case
// limiting falls back to process memory.
func NewRedisClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory rate limiting", "addr", addr, "error", err)
		_ = rdb.Close()
		return nil
	}
	logger.Info("redis rate limiter connected", "addr", addr)
	return rdb
}

// allowRedis is a fixed-window counter using INCR/EXPIRE.
// key format: rl:<window_seconds>:<identifier>
func (l *RateLimiter) allowRedis(ctx context.Context, ident string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	key := "rl:" + strconv.FormatInt(int64(l.window.Seconds()), 10) + ":" + ident
	val, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if val == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return false, err
		}
	}
	return val <= int64(l.max), nil
}
