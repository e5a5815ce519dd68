package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlayerContextMiddleware extracts the player identity set by the Gateway.
// Every route it guards requires a resolved player; anonymous traffic never
// reaches the matchmaking surface.
func PlayerContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		playerID := c.Get("X-User-ID")
		rolesStr := c.Get("X-User-Roles")

		if playerID == "" {
			log.Printf("❌ [PLAYER_CTX] X-User-ID missing on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		// Attach to ctx for handlers
		c.Locals("user_id", playerID)
		c.Locals("user_roles", roles)

		return c.Next()
	}
}
