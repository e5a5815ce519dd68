package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/repository"
)

// DefaultRematchTTL is deliberately short: a rematch targets one specific
// opponent who is expected to respond near-instantly.
const DefaultRematchTTL = 10 * time.Second

// InviteService owns the two targeted sub-flows that bypass open search:
// friend invites and rematches. Both end in a session pinned to exactly two
// players via constraints.
type InviteService struct {
	Invitations *repository.InvitationRepository
	Sessions    *repository.SessionRepository
	Matches     *repository.MatchRepository
	Social      SocialGraph
	Profiles    ProfileProvider
	Clock       clockwork.Clock

	InvitationTTL time.Duration
	RematchTTL    time.Duration
}

func NewInviteService(invitations *repository.InvitationRepository, sessions *repository.SessionRepository, matches *repository.MatchRepository, social SocialGraph, profiles ProfileProvider, clock clockwork.Clock) *InviteService {
	return &InviteService{
		Invitations:   invitations,
		Sessions:      sessions,
		Matches:       matches,
		Social:        social,
		Profiles:      profiles,
		Clock:         clock,
		InvitationTTL: repository.DefaultInvitationTTL,
		RematchTTL:    DefaultRematchTTL,
	}
}

// CreateFriendInvite starts the friend flow: a pending invitation record,
// not a waiting room. No session exists until the invitee accepts.
func (s *InviteService) CreateFriendInvite(ctx context.Context, requesterID, targetID, gameMode string, gameData map[string]json.RawMessage) (*models.Invitation, error) {
	if targetID == requesterID {
		return nil, models.NewValidationError("opponent_player_id", "cannot invite yourself")
	}
	connected, err := s.Social.AreConnected(ctx, requesterID, targetID)
	if err != nil {
		return nil, &models.DownstreamError{Op: "social graph check", Err: err}
	}
	if !connected {
		return nil, &models.NotEligibleError{Reason: "players are not connected as friends"}
	}

	from, err := s.Profiles.GetPlayerSnapshot(ctx, requesterID)
	if err != nil {
		return nil, &models.DownstreamError{Op: "profile snapshot", Err: err}
	}
	to, err := s.Profiles.GetPlayerSnapshot(ctx, targetID)
	if err != nil {
		return nil, &models.DownstreamError{Op: "profile snapshot", Err: err}
	}

	inv, err := s.Invitations.Create(ctx, gameMode, from, to, gameData, s.InvitationTTL)
	if err != nil {
		return nil, err
	}
	log.Printf("[Invites] %s invited %s to %s (invitation %s)", requesterID, targetID, gameMode, inv.ID)
	return inv, nil
}

// AcceptInvite converts a pending invitation into a session that is born
// matched: both snapshots attached, both players pre-readied, pinned to the
// pair. It goes straight to promotion, skipping open search entirely.
func (s *InviteService) AcceptInvite(ctx context.Context, invitationID, playerID string) (*models.Session, error) {
	inv, err := s.Invitations.MarkAccepted(ctx, invitationID, playerID)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, &models.NotEligibleError{Reason: "invitation is no longer pending"}
		}
		return nil, err
	}

	session, err := s.Sessions.CreateMatched(ctx, models.SessionTypeFriend, inv.GameMode,
		inv.FromData, inv.ToData,
		[]string{inv.FromData.PlayerID, inv.ToData.PlayerID},
		inv.GameData, 0)
	if err != nil {
		return nil, err
	}

	// Point the inviter's subscription at the new session. Losing this
	// write strands an accepted invitation; the invitee still returns the
	// session id, and the reaper clears the record at expiry.
	if err := s.Invitations.SetSessionID(ctx, invitationID, session.ID); err != nil {
		log.Printf("[Invites] could not record session %s on invitation %s: %v", session.ID, invitationID, err)
	}
	log.Printf("[Invites] invitation %s accepted, session %s created", invitationID, session.ID)
	return session, nil
}

// DeclineInvite removes the invitation without ever creating a session.
func (s *InviteService) DeclineInvite(ctx context.Context, invitationID, playerID string) error {
	if err := s.Invitations.MarkDeclined(ctx, invitationID, playerID); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return &models.NotEligibleError{Reason: "invitation is no longer pending"}
		}
		return err
	}
	if err := s.Invitations.Delete(ctx, invitationID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	log.Printf("[Invites] invitation %s declined by %s", invitationID, playerID)
	return nil
}

// CreateRematch spins up a matched session targeting the opponent from a
// finished match. Only the requester is readied; the opponent has RematchTTL
// to respond before the room expires.
func (s *InviteService) CreateRematch(ctx context.Context, requesterID, originalMatchID, opponentID string) (*models.Session, error) {
	original, err := s.Matches.Get(ctx, originalMatchID)
	if err != nil {
		return nil, err
	}
	if !original.IsAuthorized(requesterID) {
		return nil, &models.AuthorizationError{PlayerID: requesterID, Resource: "match " + originalMatchID}
	}
	if original.OpponentID(requesterID) != opponentID {
		return nil, models.NewValidationError("opponent_id", "was not the opponent in the original match")
	}
	if !original.IsTerminal() {
		return nil, models.NewValidationError("original_match_id", "match is still in progress")
	}

	// Fresh snapshots — a rematch is a new game, not a continuation.
	host, err := s.Profiles.GetPlayerSnapshot(ctx, requesterID)
	if err != nil {
		return nil, &models.DownstreamError{Op: "profile snapshot", Err: err}
	}
	opponent, err := s.Profiles.GetPlayerSnapshot(ctx, opponentID)
	if err != nil {
		return nil, &models.DownstreamError{Op: "profile snapshot", Err: err}
	}

	// The original match's settings carry over: a rematch replays the same
	// configuration.
	session, err := s.Sessions.CreateMatched(ctx, models.SessionTypeRematch, original.GameMode,
		host, opponent, []string{requesterID}, original.GameData, s.RematchTTL)
	if err != nil {
		return nil, err
	}
	log.Printf("[Invites] rematch session %s created: %s challenges %s", session.ID, requesterID, opponentID)
	return session, nil
}

// RespondRematch records the target's answer. Accept readies them up (after
// which either client may promote); decline cancels and deletes the room.
// The third outcome, timeout, is produced by the reaper when the TTL lapses.
func (s *InviteService) RespondRematch(ctx context.Context, sessionID, playerID string, accept bool) (models.RematchOutcome, error) {
	session, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.RematchTimeout, nil // reaped before the answer arrived
		}
		return "", err
	}
	if session.SessionType != models.SessionTypeRematch {
		return "", models.NewValidationError("session_id", "is not a rematch session")
	}
	if !session.HasPlayer(playerID) {
		return "", &models.AuthorizationError{PlayerID: playerID, Resource: "session " + sessionID}
	}
	if session.Status == models.SessionExpired || session.IsExpired(s.Clock.Now()) {
		return models.RematchTimeout, nil
	}

	if !accept {
		if err := s.Sessions.Cancel(ctx, sessionID, playerID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
		log.Printf("[Invites] rematch %s declined by %s", sessionID, playerID)
		return models.RematchDeclined, nil
	}

	if _, err := s.Sessions.MarkReady(ctx, sessionID, playerID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.RematchTimeout, nil
		}
		return "", err
	}
	log.Printf("[Invites] rematch %s accepted by %s", sessionID, playerID)
	return models.RematchAccepted, nil
}

// --- Fiber handlers ---

func (s *InviteService) HandleAcceptInvite(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	session, err := s.AcceptInvite(c.Context(), c.Params("id"), playerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(session)
}

func (s *InviteService) HandleDeclineInvite(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	if err := s.DeclineInvite(c.Context(), c.Params("id"), playerID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "declined"})
}

func (s *InviteService) HandleRespondRematch(c *fiber.Ctx) error {
	playerID := playerFromCtx(c)
	if playerID == "" {
		return unauthorized(c)
	}
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	outcome, err := s.RespondRematch(c.Context(), c.Params("id"), playerID, body.Accept)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"outcome": outcome})
}
