package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/carepoint-health/carepoint/internal/account"
)

const rateLimitWindow = time.Minute

// IdentityRateLimit caps attempts per identity (or client IP when the body
// names none) within a one minute window. scope separates the counters of
// different endpoints. It fails open when redis is absent or erroring.
func IdentityRateLimit(cache *redis.Client, scope string, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}

		var req struct {
			Identity string `json:"identity"`
			Email    string `json:"email"`
			Phone    string `json:"phone"`
		}
		_ = c.BodyParser(&req)
		subject := account.NormalizeIdentity(firstNonEmpty(req.Identity, req.Email, req.Phone))
		if subject == "" {
			subject = "ip:" + c.IP()
		}

		ctx := c.UserContext()
		key := "rl:" + scope + ":" + subject
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limit counter unavailable", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			if err := cache.Expire(ctx, key, rateLimitWindow).Err(); err != nil {
				// A counter without a TTL would never reset.
				logger.Warn("rate limit window not set", slog.String("scope", scope), slog.Any("error", err))
				cache.Del(context.WithoutCancel(ctx), key)
				return c.Next()
			}
		}
		if cnt > int64(maxPerMin) {
			retry := rateLimitWindow
			if ttl, err := cache.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				retry = ttl
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retry.Seconds())))
			logger.Warn("rate limit exceeded", slog.String("scope", scope))
			return fiber.NewError(fiber.StatusTooManyRequests, "too many attempts, try again later")
		}
		return c.Next()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
