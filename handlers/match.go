package handlers

import (
	"github.com/gofiber/fiber/v2"

	"dice-match-system/middleware"
	"dice-match-system/services"
)

func SetupMatchRoutes(app *fiber.App, matches *services.MatchService, invites *services.InviteService, streams *services.StreamService, authClient *services.AuthServiceClient) {
	secured := app.Group("/", middleware.PlayerContextMiddleware())

	// In-match lifecycle
	secured.Get("/matches/:id", matches.HandleGet)
	secured.Post("/matches/:id/heartbeat", matches.HandleHeartbeat)
	secured.Post("/matches/:id/claim-victory", matches.HandleClaimVictory)
	secured.Post("/matches/:id/complete", matches.HandleComplete)

	// Friend invitations and rematch responses
	secured.Post("/invitations/:id/accept", invites.HandleAcceptInvite)
	secured.Post("/invitations/:id/decline", invites.HandleDeclineInvite)
	secured.Post("/sessions/:id/rematch-response", invites.HandleRespondRematch)

	// SSE — query-param auth, see matchmaking routes
	app.Get("/matches/:id/stream", middleware.SSEAuthMiddleware(authClient), streams.StreamMatchSSE)
}
