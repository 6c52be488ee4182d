package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// MovementRateLimit caps money movement requests per account or wallet in a
// fixed one-minute window. It fails open when Redis is missing or erroring.
func MovementRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := c.Params("accountId")
		if subject == "" {
			subject = c.Params("walletId")
		}
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:movement:" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many money movements, try again later")
		}
		return c.Next()
	}
}
