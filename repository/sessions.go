package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/store"
)

// DefaultSessionTTL is how long an unmatched waiting room lives before the
// reaper deletes it.
const DefaultSessionTTL = 20 * time.Minute

// SessionRepository owns all reads and writes of session documents.
type SessionRepository struct {
	Store store.Store
	Clock clockwork.Clock
}

func NewSessionRepository(st store.Store, clock clockwork.Clock) *SessionRepository {
	return &SessionRepository{Store: st, Clock: clock}
}

// Create inserts a fresh waiting room hosted by host. gameData is the
// host's opaque mode-specific settings, carried as-is through promotion.
func (r *SessionRepository) Create(ctx context.Context, sessionType models.SessionType, gameMode string, host models.PlayerSnapshot, gameData map[string]json.RawMessage, ttl time.Duration) (*models.Session, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := r.Clock.Now().UTC()
	session := &models.Session{
		ID:          uuid.NewString(),
		SessionType: sessionType,
		GameMode:    gameMode,
		Status:      models.SessionWaiting,
		HostData:    host,
		GameData:    gameData,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := r.Store.Insert(ctx, sessionsCollection, session.ID, session); err != nil {
		return nil, mapStoreErr(err)
	}
	return session, nil
}

// CreateMatched inserts a session that is born in the matched state with
// both players attached — the friend-invite and rematch flows, which skip
// open search entirely. The session is pinned to exactly these two players.
func (r *SessionRepository) CreateMatched(ctx context.Context, sessionType models.SessionType, gameMode string, host, opponent models.PlayerSnapshot, readyPlayers []string, gameData map[string]json.RawMessage, ttl time.Duration) (*models.Session, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := r.Clock.Now().UTC()
	opp := opponent
	session := &models.Session{
		ID:           uuid.NewString(),
		SessionType:  sessionType,
		GameMode:     gameMode,
		Status:       models.SessionMatched,
		HostData:     host,
		OpponentData: &opp,
		ReadyPlayers: readyPlayers,
		GameData:     gameData,
		Constraints: &models.SessionConstraints{
			AllowedPlayerIDs: []string{host.PlayerID, opponent.PlayerID},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := r.Store.Insert(ctx, sessionsCollection, session.ID, session); err != nil {
		return nil, mapStoreErr(err)
	}
	return session, nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := r.Store.Get(ctx, sessionsCollection, id, &session); err != nil {
		return nil, mapStoreErr(err)
	}
	return &session, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return mapStoreErr(r.Store.Delete(ctx, sessionsCollection, id))
}

// FindOpen returns joinable waiting rooms for a type+mode, excluding expired
// sessions and sessions hosted by the requesting player — a player can never
// match themselves.
func (r *SessionRepository) FindOpen(ctx context.Context, sessionType models.SessionType, gameMode, excludingPlayerID string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.Store.Query(ctx, sessionsCollection, []store.Filter{
		store.Eq("session_type", sessionType),
		store.Eq("game_mode", gameMode),
		store.Eq("status", models.SessionWaiting),
		store.Gt("expires_at", r.Clock.Now().UTC()),
	}, &sessions)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	open := sessions[:0]
	for _, s := range sessions {
		if s.HostData.PlayerID == excludingPlayerID {
			continue
		}
		if !s.Constraints.Allows(excludingPlayerID) {
			continue // pinned to someone else
		}
		open = append(open, s)
	}
	return open, nil
}

// FindOpenOwnedBy returns the player's still-open session (waiting or
// matched), if any. Used to reject duplicate searches.
func (r *SessionRepository) FindOpenOwnedBy(ctx context.Context, playerID string) (*models.Session, error) {
	now := r.Clock.Now().UTC()
	for _, status := range []models.SessionStatus{models.SessionWaiting, models.SessionMatched} {
		var sessions []models.Session
		err := r.Store.Query(ctx, sessionsCollection, []store.Filter{
			store.Eq("status", status),
			store.Gt("expires_at", now),
		}, &sessions)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		for i := range sessions {
			if sessions[i].HasPlayer(playerID) {
				return &sessions[i], nil
			}
		}
	}
	return nil, models.ErrNotFound
}

// AttemptJoin atomically claims the session for the joiner. Exactly one of
// N racing joiners wins; the rest get models.ErrConflict and fall back to
// another session. This is the single most load-bearing write in the core.
func (r *SessionRepository) AttemptJoin(ctx context.Context, sessionID string, joiner models.PlayerSnapshot) (*models.Session, error) {
	var joined models.Session
	err := updateDoc(ctx, r.Store, sessionsCollection, sessionID, func(s *models.Session) error {
		if s.Status != models.SessionWaiting || s.OpponentData != nil {
			return models.ErrConflict
		}
		if s.IsExpired(r.Clock.Now()) {
			return models.ErrConflict
		}
		if s.HostData.PlayerID == joiner.PlayerID {
			return models.ErrConflict
		}
		if !s.Constraints.Allows(joiner.PlayerID) {
			return &models.AuthorizationError{PlayerID: joiner.PlayerID, Resource: "session " + sessionID}
		}
		opp := joiner
		s.OpponentData = &opp
		s.Status = models.SessionMatched
		joined = *s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &joined, nil
}

// MarkReady records an explicit ready-up on a matched session (invitation
// and rematch flows only).
func (r *SessionRepository) MarkReady(ctx context.Context, sessionID, playerID string) (*models.Session, error) {
	var updated models.Session
	err := updateDoc(ctx, r.Store, sessionsCollection, sessionID, func(s *models.Session) error {
		if !s.HasPlayer(playerID) {
			return &models.AuthorizationError{PlayerID: playerID, Resource: "session " + sessionID}
		}
		if s.Status != models.SessionMatched {
			return models.ErrConflict
		}
		if !s.IsReady(playerID) {
			s.ReadyPlayers = append(s.ReadyPlayers, playerID)
		}
		updated = *s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Cancel transitions the session to cancelled and deletes it. Only the host
// may cancel a waiting session; either attached player may cancel a matched
// one. The status write and the ownership check share one transaction so a
// concurrent join cannot slip in between.
func (r *SessionRepository) Cancel(ctx context.Context, sessionID, playerID string) error {
	err := updateDoc(ctx, r.Store, sessionsCollection, sessionID, func(s *models.Session) error {
		switch s.Status {
		case models.SessionWaiting:
			if s.HostData.PlayerID != playerID {
				return &models.AuthorizationError{PlayerID: playerID, Resource: "session " + sessionID}
			}
		case models.SessionMatched:
			if !s.HasPlayer(playerID) {
				return &models.AuthorizationError{PlayerID: playerID, Resource: "session " + sessionID}
			}
		default:
			return models.ErrConflict
		}
		s.Status = models.SessionCancelled
		return nil
	})
	if err != nil {
		return err
	}
	if err := r.Delete(ctx, sessionID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return nil
}

// MarkExpired flips a session past its TTL to expired so observers see the
// timeout before the reaper deletes the document.
func (r *SessionRepository) MarkExpired(ctx context.Context, sessionID string) error {
	return updateDoc(ctx, r.Store, sessionsCollection, sessionID, func(s *models.Session) error {
		if s.Status == models.SessionCancelled || s.Status == models.SessionExpired {
			return nil
		}
		s.Status = models.SessionExpired
		return nil
	})
}

// FindExpired returns every session whose TTL elapsed before now.
func (r *SessionRepository) FindExpired(ctx context.Context, now time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := r.Store.Query(ctx, sessionsCollection, []store.Filter{
		store.Lt("expires_at", now.UTC()),
	}, &sessions)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return sessions, nil
}

// CountOpenByMode tallies waiting rooms per "type/mode" key. Ops endpoint
// fodder, not a correctness path.
func (r *SessionRepository) CountOpenByMode(ctx context.Context) (map[string]int, error) {
	var sessions []models.Session
	err := r.Store.Query(ctx, sessionsCollection, []store.Filter{
		store.Eq("status", models.SessionWaiting),
		store.Gt("expires_at", r.Clock.Now().UTC()),
	}, &sessions)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	counts := make(map[string]int)
	for _, s := range sessions {
		counts[string(s.SessionType)+"/"+s.GameMode]++
	}
	return counts, nil
}

// Watch streams session document changes until deletion or ctx cancel.
func (r *SessionRepository) Watch(ctx context.Context, sessionID string) (<-chan []byte, error) {
	ch, err := r.Store.Watch(ctx, sessionsCollection, sessionID)
	return ch, mapStoreErr(err)
}
