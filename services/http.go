package services

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"dice-match-system/models"
)

// respondError maps the error taxonomy onto HTTP statuses at the fiber
// boundary. Internal retries already happened by the time an error gets
// here — whatever arrives is final.
func respondError(c *fiber.Ctx, err error) error {
	var (
		validationErr *models.ValidationError
		eligibleErr   *models.NotEligibleError
		authErr       *models.AuthorizationError
		downstreamErr *models.DownstreamError
	)
	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr.Error()})
	case errors.As(err, &eligibleErr):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":  "not eligible",
			"reason": eligibleErr.Reason,
		})
	case errors.As(err, &authErr):
		// Security-relevant: someone poked a resource that is not theirs.
		log.Printf("🚫 [AUTH] %v", authErr)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant of this resource"})
	case errors.Is(err, models.ErrAlreadyInSession):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "player already has an open session"})
	case errors.Is(err, models.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "could not find or create a match, try again"})
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, models.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "backend unavailable, try again"})
	case errors.As(err, &downstreamErr):
		log.Printf("[HTTP] downstream failure: %v", downstreamErr)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "a dependent service failed, try again"})
	default:
		log.Printf("[HTTP] unexpected error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

// playerFromCtx pulls the authenticated player id set by the user-context
// middleware. Empty means the middleware was bypassed somehow.
func playerFromCtx(c *fiber.Ctx) string {
	playerID, _ := c.Locals("user_id").(string)
	return playerID
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing player identity"})
}
