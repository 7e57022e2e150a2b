package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// AdminRateLimit caps per-minute calls on the admin surface. Login attempts
// are keyed by the submitted username so a brute force against one credential
// cannot hide behind rotating addresses; everything else is keyed by client
// IP. Uses Redis when available and fails open without it.
func AdminRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 20
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := c.IP()
		if c.Method() == fiber.MethodPost && strings.HasSuffix(c.Path(), "/login") {
			var req struct {
				Username string `json:"username"`
			}
			_ = c.BodyParser(&req)
			if u := strings.TrimSpace(req.Username); u != "" {
				subject = u
			}
		}
		key := "rl:admin:" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
