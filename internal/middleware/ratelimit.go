package middleware

import (
	"strconv"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RateLimitMiddleware counts requests per path and client IP.
func RateLimitMiddleware(limiter ratelimit.Limiter, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, wait, err := limiter.Allow(c.Context(), c.Path()+":"+c.IP())
		if err != nil {
			log.Debug("rate limiter unavailable", zap.Error(err))
			return c.Next() // fail open
		}

		if !allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(wait.Seconds())+1))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
