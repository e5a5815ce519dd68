package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/repository"
)

// DefaultRecoveryWindow bounds how far back the promotion fallback searches
// for a freshly-created match when the session is already gone.
const DefaultRecoveryWindow = 30 * time.Second

// PromotionService turns a matched session into the authoritative match
// record. Both clients may observe the session transition and race to
// promote; the deterministic match id (keyed on the session) makes the
// create a transactional upsert, so duplicate invocation is always safe.
type PromotionService struct {
	Sessions       *repository.SessionRepository
	Matches        *repository.MatchRepository
	Monitor        *AbandonmentMonitor
	Clock          clockwork.Clock
	RecoveryWindow time.Duration
}

func NewPromotionService(sessions *repository.SessionRepository, matches *repository.MatchRepository, monitor *AbandonmentMonitor, clock clockwork.Clock) *PromotionService {
	return &PromotionService{
		Sessions:       sessions,
		Matches:        matches,
		Monitor:        monitor,
		Clock:          clock,
		RecoveryWindow: DefaultRecoveryWindow,
	}
}

// Promote creates (or resolves) the match for a fully-populated session.
// Idempotent under concurrent and repeated invocation, including after the
// session has already been consumed by the other promoter.
func (p *PromotionService) Promote(ctx context.Context, sessionID, callerID string) (*models.Match, error) {
	// Fast path: the other promoter already won.
	if m, err := p.Matches.FindBySession(ctx, sessionID); err == nil {
		if !m.IsAuthorized(callerID) {
			return nil, &models.AuthorizationError{PlayerID: callerID, Resource: "match " + m.ID}
		}
		return m, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	session, err := p.Sessions.Get(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		// Session consumed and deleted before we saw it. Recover the match
		// by membership and recency instead of re-promoting.
		return p.recover(ctx, callerID)
	}
	if err != nil {
		return nil, err
	}

	if !session.HasPlayer(callerID) {
		return nil, &models.AuthorizationError{PlayerID: callerID, Resource: "session " + sessionID}
	}
	if session.Status != models.SessionMatched || session.OpponentData == nil {
		return nil, models.NewValidationError("session_id", "session has no opponent yet")
	}
	if session.IsExpired(p.Clock.Now()) {
		return nil, models.ErrNotFound
	}
	if session.SessionType == models.SessionTypeRematch {
		// Rematch rooms need both sides to ready up before they become real.
		if !session.IsReady(session.HostData.PlayerID) || !session.IsReady(session.OpponentData.PlayerID) {
			return nil, models.NewValidationError("session_id", "rematch has not been accepted yet")
		}
	}

	now := p.Clock.Now().UTC()
	hostID := session.HostData.PlayerID
	opponentID := session.OpponentData.PlayerID
	match := &models.Match{
		ID:                repository.MatchIDForSession(sessionID),
		OriginalSessionID: sessionID,
		GameMode:          session.GameMode,
		SessionType:       session.SessionType,
		Status:            models.MatchActive,
		HostData:          models.MatchPlayer{PlayerSnapshot: session.HostData},
		OpponentData:      models.MatchPlayer{PlayerSnapshot: *session.OpponentData},
		AuthorizedPlayers: []string{hostID, opponentID},
		// Both players count as just-seen at start; the turn decider phase
		// sets TurnActive later, outside this core.
		Heartbeats: map[string]time.Time{hostID: now, opponentID: now},
		GameData:   session.GameData,
		CreatedAt:  now,
		StartedAt:  now,
	}

	err = p.Matches.Create(ctx, match)
	if errors.Is(err, models.ErrConflict) {
		// The other promoter's insert landed first — use theirs.
		match, err = p.Matches.FindBySession(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	// The waiting room is consumed. Already-gone means the other promoter
	// cleaned up, which is success, not an error.
	if err := p.Sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Printf("[Promotion] could not delete session %s after promoting to %s: %v", sessionID, match.ID, err)
	}

	if p.Monitor != nil {
		p.Monitor.Track(match.ID)
	}
	log.Printf("[Promotion] session %s promoted to match %s (%s vs %s)", sessionID, match.ID, hostID, opponentID)
	return match, nil
}

func (p *PromotionService) recover(ctx context.Context, callerID string) (*models.Match, error) {
	since := p.Clock.Now().Add(-p.RecoveryWindow)
	match, err := p.Matches.FindRecentActiveFor(ctx, callerID, since)
	if err != nil {
		return nil, err
	}
	log.Printf("[Promotion] recovered match %s for player %s after session was already consumed", match.ID, callerID)
	return match, nil
}
