package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// TokenVerifier validates a bearer token and returns the acting username.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// AdminAuth guards the administrative routes. On success the acting username
// is stored under actorLocal for audit attribution.
func AdminAuth(verifier TokenVerifier, actorLocal string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		actor, err := verifier.VerifyToken(token)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(actorLocal, actor)
		return c.Next()
	}
}
