package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/pkg/response"
)

// RateLimiter is a fixed-window limiter backed by Redis counters
type RateLimiter struct {
	redis redis.UniversalClient
}

func NewRateLimiter(redisClient redis.UniversalClient) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit counts requests per caller: the authenticated user, or the client IP on public routes
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil || rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		caller := GetUserID(c)
		if caller == "" {
			caller = "ip:" + c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, caller)
		ctx := c.UserContext()

		// the counter and its expiry are created together, so a counter never outlives its window
		var incr *redis.IntCmd
		var ttl *redis.DurationCmd
		_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetNX(ctx, key, 0, window)
			incr = pipe.Incr(ctx, key)
			ttl = pipe.TTL(ctx, key)
			return nil
		})
		if err != nil {
			// fail open
			log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
			return c.Next()
		}
		count := incr.Val()
		if ttl.Val() < 0 {
			// a counter without expiry would lock the caller out for good
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			return response.RateLimited(c, retryAfter(ttl.Val(), window))
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(maxRequests-int(count)))
		return c.Next()
	}
}

// retryAfter converts a counter TTL into whole seconds, at least one.
// Redis reports a missing expiry as a negative TTL; the full window is used then.
func retryAfter(ttl, window time.Duration) int {
	if ttl <= 0 {
		ttl = window
	}
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// JobsLimit limits job creation and retries per admin
func (rl *RateLimiter) JobsLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("jobs", maxPerHour, time.Hour)
}

// ClaimsLimit limits public claim submissions per client
func (rl *RateLimiter) ClaimsLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("claims", maxPerHour, time.Hour)
}
