package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"dice-match-system/services"
)

// SSEAuthMiddleware validates `token` and `device_id` query params via the
// auth service. Browsers cannot attach headers to EventSource connections,
// so the SSE routes authenticate out of band instead of via the Gateway
// headers the JSON routes use.
//
// Usage:
//
//	app.Get("/matches/:id/stream", middleware.SSEAuthMiddleware(authClient), streamService.StreamMatchSSE)
func SSEAuthMiddleware(authClient *services.AuthServiceClient) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			log.Printf("[SSEAuth] ❌ Missing query params on %s (token len=%d, device_id='%s')", c.Path(), len(accessToken), deviceID)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing token or device_id in query",
			})
		}

		resp, err := authClient.ValidateToken(accessToken, deviceID)
		if err != nil {
			log.Printf("[SSEAuth] ❌ Validation failed for device %s: %v", deviceID, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		// Same locals the header-based middleware sets, so handlers are
		// agnostic to which auth path the request took.
		c.Locals("user_id", resp.PlayerID)
		c.Locals("user_roles", resp.Roles)

		return c.Next()
	}
}
