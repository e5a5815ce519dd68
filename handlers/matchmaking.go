package handlers

import (
	"github.com/gofiber/fiber/v2"

	"dice-match-system/middleware"
	"dice-match-system/services"
)

func SetupMatchmakingRoutes(app *fiber.App, matchmaking *services.MatchmakingService, streams *services.StreamService, authClient *services.AuthServiceClient) {
	// 🔓 Public routes — no player context, but still behind Gateway auth
	app.Get("/matchmaking/queues", matchmaking.HandleQueueCounts)

	// 🔐 Secured routes — require player context from the Gateway
	secured := app.Group("/", middleware.PlayerContextMiddleware())

	secured.Post("/matchmaking/find", matchmaking.HandleFindMatch)
	secured.Post("/sessions/:id/cancel", matchmaking.HandleCancel)
	secured.Post("/sessions/:id/promote", matchmaking.HandlePromote)

	// SSE — EventSource can't send headers, so these authenticate via query params
	app.Get("/sessions/:id/stream", middleware.SSEAuthMiddleware(authClient), streams.StreamSessionSSE)
}
