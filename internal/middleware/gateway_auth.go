package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pluree/api/pkg/response"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers
// set by Traefik ForwardAuth and populates Fiber context locals.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !setGatewayIdentity(c) {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		return c.Next()
	}
}

// GatewayIdentify is GatewayAuthMiddleware for routes that allow anonymous callers
func GatewayIdentify() fiber.Handler {
	return func(c *fiber.Ctx) error {
		setGatewayIdentity(c)
		return c.Next()
	}
}

func setGatewayIdentity(c *fiber.Ctx) bool {
	userID := c.Get("X-User-Id")
	if userID == "" {
		return false
	}

	c.Locals("userId", userID)
	c.Locals("email", c.Get("X-User-Email"))
	c.Locals("name", c.Get("X-User-Name"))
	return true
}
