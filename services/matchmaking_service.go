package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/repository"
)

// FindMatchRequest is the single entry point payload. PlayerID comes from
// the gateway-authenticated context, never from the body.
type FindMatchRequest struct {
	PlayerID    string             `json:"-"`
	SessionType models.SessionType `json:"session_type"`
	GameMode    string             `json:"game_mode"`

	// friend flow
	OpponentPlayerID string `json:"opponent_player_id,omitempty"`

	// tournament flow
	TournamentID string `json:"tournament_id,omitempty"`

	// rematch flow
	OriginalMatchID string `json:"original_match_id,omitempty"`
	OpponentID      string `json:"opponent_id,omitempty"`

	// GameData is the host's mode-specific settings, opaque to the core.
	// It rides the session and is copied onto the match at promotion.
	GameData map[string]json.RawMessage `json:"game_data,omitempty"`
}

// MatchmakingService is the orchestrator: it validates a request and routes
// it to the strategy for its type. Pure routing — all mutation happens in
// the sub-components it delegates to.
type MatchmakingService struct {
	Sessions    *repository.SessionRepository
	Engine      *SearchJoinEngine
	Promotion   *PromotionService
	Invites     *InviteService
	Social      SocialGraph
	Profiles    ProfileProvider
	Ranking     RankingService
	Tournaments TournamentRegistry
	Clock       clockwork.Clock

	// CollaboratorBackoff absorbs transient collaborator unavailability the
	// same way the search engine absorbs read lag.
	CollaboratorBackoff RetryPolicy
}

// FindMatch validates and dispatches. Returned errors are always taxonomy
// values so the caller can distinguish NotEligible / AlreadyInSession /
// InvalidRequest / DownstreamFailure.
func (s *MatchmakingService) FindMatch(ctx context.Context, req FindMatchRequest) (*FindMatchResult, error) {
	if req.PlayerID == "" {
		return nil, models.NewValidationError("player_id", "is required")
	}
	if req.GameMode == "" {
		return nil, models.NewValidationError("game_mode", "is required")
	}
	if !models.ValidSessionType(req.SessionType) {
		return nil, models.NewValidationError("session_type", "is unknown")
	}

	// A player with an open session must resolve it before searching again.
	// Friend invites are out-of-band and skip this check: inviting a friend
	// must not be blocked by your own quick/ranked search.
	if req.SessionType != models.SessionTypeFriend {
		existing, err := s.Sessions.FindOpenOwnedBy(ctx, req.PlayerID)
		if err == nil {
			log.Printf("[Matchmaking] player %s rejected, already in session %s", req.PlayerID, existing.ID)
			return nil, models.ErrAlreadyInSession
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, &models.DownstreamError{Op: "open session check", Err: err}
		}
	}

	switch req.SessionType {
	case models.SessionTypeQuick:
		return s.findQuick(ctx, req)
	case models.SessionTypeRanked:
		return s.findRanked(ctx, req)
	case models.SessionTypeFriend:
		return s.findFriend(ctx, req)
	case models.SessionTypeTournament:
		return s.findTournament(ctx, req)
	case models.SessionTypeRematch:
		return s.findRematch(ctx, req)
	default:
		return nil, models.NewValidationError("session_type", "is unknown")
	}
}

func (s *MatchmakingService) findQuick(ctx context.Context, req FindMatchRequest) (*FindMatchResult, error) {
	snapshot, err := s.snapshot(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}
	return s.Engine.SearchOrCreate(ctx, models.SessionTypeQuick, req.GameMode, snapshot, req.GameData, nil)
}

func (s *MatchmakingService) findRanked(ctx context.Context, req FindMatchRequest) (*FindMatchResult, error) {
	var active bool
	err := s.CollaboratorBackoff.Run(ctx, s.Clock,
		func(err error) bool { return errors.Is(err, models.ErrUnavailable) },
		func() (err error) {
			active, err = s.Ranking.HasActivePeriod(ctx)
			return err
		})
	if err != nil {
		return nil, &models.DownstreamError{Op: "ranking period check", Err: err}
	}
	if !active {
		return nil, &models.NotEligibleError{Reason: "no active ranking period"}
	}

	snapshot, err := s.snapshot(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}

	// Ranked play between friends is disallowed by policy. The would-be
	// opponent is whoever hosts the candidate room, so the check runs
	// per-candidate before the claim.
	noFriends := func(ctx context.Context, candidate *models.Session) error {
		connected, err := s.Social.AreConnected(ctx, req.PlayerID, candidate.HostData.PlayerID)
		if err != nil {
			return &models.DownstreamError{Op: "social graph check", Err: err}
		}
		if connected {
			return &models.NotEligibleError{Reason: "ranked matches against friends are not allowed"}
		}
		return nil
	}
	return s.Engine.SearchOrCreate(ctx, models.SessionTypeRanked, req.GameMode, snapshot, req.GameData, noFriends)
}

func (s *MatchmakingService) findFriend(ctx context.Context, req FindMatchRequest) (*FindMatchResult, error) {
	if req.OpponentPlayerID == "" {
		return nil, models.NewValidationError("opponent_player_id", "is required for friend invites")
	}
	inv, err := s.Invites.CreateFriendInvite(ctx, req.PlayerID, req.OpponentPlayerID, req.GameMode, req.GameData)
	if err != nil {
		return nil, err
	}
	return &FindMatchResult{InvitationID: inv.ID}, nil
}

func (s *MatchmakingService) findTournament(ctx context.Context, req FindMatchRequest) (*FindMatchResult, error) {
	if req.TournamentID == "" {
		return nil, models.NewValidationError("tournament_id", "is required for tournament matches")
	}
	var registered bool
	err := s.CollaboratorBackoff.Run(ctx, s.Clock,
		func(err error) bool { return errors.Is(err, models.ErrUnavailable) },
		func() (err error) {
			registered, err = s.Tournaments.IsRegistered(ctx, req.TournamentID, req.PlayerID)
			return err
		})
	if err != nil {
		return nil, &models.DownstreamError{Op: "tournament registration check", Err: err}
	}
	if !registered {
		return nil, &models.NotEligibleError{Reason: "no active registration for this tournament"}
	}

	// Pairing is the bracket scheduler's job, not ours: park a waiting room
	// for it to fill instead of open-searching.
	snapshot, err := s.snapshot(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}
	session, err := s.Sessions.Create(ctx, models.SessionTypeTournament, req.GameMode, snapshot, req.GameData, 0)
	if err != nil {
		return nil, err
	}
	return &FindMatchResult{SessionID: session.ID, IsNewSession: true}, nil
}

func (s *MatchmakingService) findRematch(ctx context.Context, req FindMatchRequest) (*FindMatchResult, error) {
	if req.OriginalMatchID == "" {
		return nil, models.NewValidationError("original_match_id", "is required for rematches")
	}
	if req.OpponentID == "" {
		return nil, models.NewValidationError("opponent_id", "is required for rematches")
	}
	session, err := s.Invites.CreateRematch(ctx, req.PlayerID, req.OriginalMatchID, req.OpponentID)
	if err != nil {
		return nil, err
	}
	return &FindMatchResult{SessionID: session.ID, IsNewSession: true, HasOpponent: true}, nil
}

func (s *MatchmakingService) snapshot(ctx context.Context, playerID string) (models.PlayerSnapshot, error) {
	var snapshot models.PlayerSnapshot
	err := s.CollaboratorBackoff.Run(ctx, s.Clock,
		func(err error) bool { return errors.Is(err, models.ErrUnavailable) },
		func() (err error) {
			snapshot, err = s.Profiles.GetPlayerSnapshot(ctx, playerID)
			return err
		})
	if err != nil {
		return models.PlayerSnapshot{}, &models.DownstreamError{Op: "profile snapshot", Err: err}
	}
	return snapshot, nil
}

// CancelMatchmaking removes a player's waiting room (or a matched room both
// agree to drop). Cancelling a session whose promotion already finished is a
// no-op: the match exists, the room is gone, nothing to corrupt.
func (s *MatchmakingService) CancelMatchmaking(ctx context.Context, sessionID, playerID string) error {
	err := s.Sessions.Cancel(ctx, sessionID, playerID)
	if errors.Is(err, models.ErrNotFound) {
		if m, merr := s.Promotion.Matches.FindBySession(ctx, sessionID); merr == nil && m.IsAuthorized(playerID) {
			log.Printf("[Matchmaking] cancel of %s ignored, already promoted to match %s", sessionID, m.ID)
			return nil
		}
		return err
	}
	return err
}

// --- Fiber handlers ---

func (s *MatchmakingService) HandleFindMatch(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	var req FindMatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	req.PlayerID = playerID

	result, err := s.FindMatch(c.Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (s *MatchmakingService) HandleCancel(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	if err := s.CancelMatchmaking(c.Context(), c.Params("id"), playerID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}

func (s *MatchmakingService) HandlePromote(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	match, err := s.Promotion.Promote(c.Context(), c.Params("id"), playerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(match)
}

// HandleQueueCounts reports open waiting rooms per type/mode. Ops visibility
// only.
func (s *MatchmakingService) HandleQueueCounts(c *fiber.Ctx) error {
	counts, err := s.Sessions.CountOpenByMode(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"open_sessions": counts})
}
