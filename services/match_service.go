package services

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/repository"
)

// MatchService owns the in-match client operations: heartbeats, victory
// claims, normal completion and reads.
type MatchService struct {
	Matches *repository.MatchRepository
	Monitor *AbandonmentMonitor
	Clock   clockwork.Clock
}

func NewMatchService(matches *repository.MatchRepository, monitor *AbandonmentMonitor, clock clockwork.Clock) *MatchService {
	return &MatchService{Matches: matches, Monitor: monitor, Clock: clock}
}

// Heartbeat records the caller's liveness timestamp on the match.
func (s *MatchService) Heartbeat(ctx context.Context, matchID, playerID string) error {
	return s.Matches.RecordHeartbeat(ctx, matchID, playerID, s.Clock.Now())
}

// ClaimVictory ends the match in the caller's favor if the opponent has been
// gone past the claim threshold. Idempotent — see AbandonmentMonitor.Claim.
func (s *MatchService) ClaimVictory(ctx context.Context, matchID, playerID string) (*models.Match, error) {
	return s.Monitor.Claim(ctx, matchID, playerID)
}

// Complete records a normally-finished game. winnerID may be empty for a
// draw — a match has exactly zero or one winner. The first terminal write
// wins; repeats are no-ops.
func (s *MatchService) Complete(ctx context.Context, matchID, playerID, winnerID string) (*models.Match, error) {
	probe, err := s.Matches.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !probe.IsAuthorized(playerID) {
		return nil, &models.AuthorizationError{PlayerID: playerID, Resource: "match " + matchID}
	}
	if winnerID != "" && !probe.IsAuthorized(winnerID) {
		return nil, models.NewValidationError("winner_id", "is not a match participant")
	}
	if probe.IsTerminal() {
		return probe, nil
	}

	match, finishedNow, err := s.Matches.Finish(ctx, matchID, models.MatchCompleted, winnerID, models.EndReasonCompleted, nil)
	if err != nil {
		return nil, err
	}
	if finishedNow {
		s.Monitor.recordResult(ctx, match)
		s.Monitor.Stop(matchID)
	}
	return match, nil
}

// Get is an authorized read of the match document.
func (s *MatchService) Get(ctx context.Context, matchID, playerID string) (*models.Match, error) {
	match, err := s.Matches.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.IsAuthorized(playerID) {
		return nil, &models.AuthorizationError{PlayerID: playerID, Resource: "match " + matchID}
	}
	return match, nil
}

// --- Fiber handlers ---

func (s *MatchService) HandleHeartbeat(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	if err := s.Heartbeat(c.Context(), c.Params("id"), playerID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *MatchService) HandleClaimVictory(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	match, err := s.ClaimVictory(c.Context(), c.Params("id"), playerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *MatchService) HandleComplete(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	var body struct {
		WinnerID string `json:"winner_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	match, err := s.Complete(c.Context(), c.Params("id"), playerID, body.WinnerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

func (s *MatchService) HandleGet(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	match, err := s.Get(c.Context(), c.Params("id"), playerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}
