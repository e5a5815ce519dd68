package services

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-match-system/models"
)

func TestRespondError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", models.NewValidationError("game_mode", "is required"), fiber.StatusBadRequest},
		{"not eligible", &models.NotEligibleError{Reason: "no active ranking period"}, fiber.StatusForbidden},
		{"authorization", &models.AuthorizationError{PlayerID: "p1", Resource: "match m1"}, fiber.StatusForbidden},
		{"already in session", models.ErrAlreadyInSession, fiber.StatusConflict},
		{"conflict", models.ErrConflict, fiber.StatusConflict},
		{"not found", models.ErrNotFound, fiber.StatusNotFound},
		{"unavailable", models.ErrUnavailable, fiber.StatusServiceUnavailable},
		{"downstream", &models.DownstreamError{Op: "profile snapshot", Err: assert.AnError}, fiber.StatusBadGateway},
		{"unknown", assert.AnError, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/boom", func(c *fiber.Ctx) error {
				return respondError(c, tt.err)
			})
			resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
