package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisOpTimeout bounds each counter update. The update runs on a detached
// context so a disconnecting client cannot leave a key without a TTL.
const redisOpTimeout = 2 * time.Second

// RedisRateLimiter shares fixed-window counters between relay replicas.
// Redis failures let the request through.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (rl *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := rl.allow(clientKey(r))
		if err != nil {
			log.Printf("Rate limiter unavailable [%s]: %v", r.Header.Get("X-Request-ID"), err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, rateLimitedMessage)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow creates the window key with its TTL and increments it inside one
// MULTI/EXEC, so a counter never exists without an expiry.
func (rl *RedisRateLimiter) allow(client string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := rl.key(client)

	var incr *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, rl.window)
		incr = pipe.Incr(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	return incr.Val() <= int64(rl.limit), nil
}

func (rl *RedisRateLimiter) key(client string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, client)
}
