package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/store"
)

// MatchIDForSession derives the match id deterministically from the session
// it was promoted from. Two promoters racing on the same session compute the
// same id, so the store's create-once insert is the idempotency upsert —
// at most one match per session can ever exist.
func MatchIDForSession(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("match:"+sessionID)).String()
}

// MatchRepository owns all reads and writes of match documents.
type MatchRepository struct {
	Store store.Store
	Clock clockwork.Clock
}

func NewMatchRepository(st store.Store, clock clockwork.Clock) *MatchRepository {
	return &MatchRepository{Store: st, Clock: clock}
}

// Create inserts the match. Returns models.ErrConflict if a match for the
// same session already exists (the other promoter won).
func (r *MatchRepository) Create(ctx context.Context, m *models.Match) error {
	err := r.Store.Insert(ctx, matchesCollection, m.ID, m)
	if errors.Is(err, store.ErrExists) {
		return models.ErrConflict
	}
	return mapStoreErr(err)
}

func (r *MatchRepository) Get(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	if err := r.Store.Get(ctx, matchesCollection, id, &m); err != nil {
		return nil, mapStoreErr(err)
	}
	return &m, nil
}

// FindBySession resolves the match promoted from sessionID, if any.
func (r *MatchRepository) FindBySession(ctx context.Context, sessionID string) (*models.Match, error) {
	return r.Get(ctx, MatchIDForSession(sessionID))
}

// FindRecentActiveFor is the promotion-recovery fallback: when the session
// is already gone, a client can still find its freshly-created match by
// membership and recency. If several qualify the lexicographically-first id
// wins, so both players converge on the same record.
func (r *MatchRepository) FindRecentActiveFor(ctx context.Context, playerID string, since time.Time) (*models.Match, error) {
	var matches []models.Match
	err := r.Store.Query(ctx, matchesCollection, []store.Filter{
		store.Eq("status", models.MatchActive),
		store.Gt("created_at", since.UTC()),
		store.Contains("authorized_players", playerID),
	}, &matches)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if len(matches) == 0 {
		return nil, models.ErrNotFound
	}
	best := &matches[0]
	for i := range matches {
		if matches[i].ID < best.ID {
			best = &matches[i]
		}
	}
	return best, nil
}

// RecordHeartbeat writes the player's liveness timestamp. Heartbeats don't
// affect matching correctness, but they share the document transaction
// anyway — the write is cheap and keeps the model simple.
func (r *MatchRepository) RecordHeartbeat(ctx context.Context, matchID, playerID string, at time.Time) error {
	return updateDoc(ctx, r.Store, matchesCollection, matchID, func(m *models.Match) error {
		if !m.IsAuthorized(playerID) {
			return &models.AuthorizationError{PlayerID: playerID, Resource: "match " + matchID}
		}
		if m.IsTerminal() {
			return nil // stale client, nothing to record
		}
		if m.Heartbeats == nil {
			m.Heartbeats = make(map[string]time.Time)
		}
		m.Heartbeats[playerID] = at.UTC()
		return nil
	})
}

// Finish is the single idempotent terminal write shared by normal
// completion, abandonment claims and cancellation of a live match. The
// first writer decides winner and reason; later calls are no-ops. verify,
// if non-nil, runs inside the transaction on a still-active match — claim
// preconditions (opponent really is stale) are re-checked there so a
// last-moment heartbeat cannot be overwritten. Returns the match and
// whether this call was the one that ended it.
func (r *MatchRepository) Finish(ctx context.Context, matchID string, status models.MatchStatus, winnerID, endReason string, verify func(*models.Match) error) (*models.Match, bool, error) {
	var (
		result      models.Match
		finishedNow bool
	)
	err := updateDoc(ctx, r.Store, matchesCollection, matchID, func(m *models.Match) error {
		if m.IsTerminal() {
			result = *m
			return nil
		}
		if verify != nil {
			if err := verify(m); err != nil {
				return err
			}
		}
		now := r.Clock.Now().UTC()
		m.Status = status
		m.WinnerID = winnerID
		m.EndReason = endReason
		m.CompletedAt = &now
		result = *m
		finishedNow = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, finishedNow, nil
}

// FindActive lists every in-progress match. Used on startup to re-arm
// abandonment watchers.
func (r *MatchRepository) FindActive(ctx context.Context) ([]models.Match, error) {
	var matches []models.Match
	err := r.Store.Query(ctx, matchesCollection, []store.Filter{
		store.Eq("status", models.MatchActive),
	}, &matches)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return matches, nil
}

// FindTerminalBefore lists completed and abandoned matches whose terminal
// write happened before the cutoff. Used by the reaper; terminal matches are
// kept around long enough for rematch requests and result screens.
func (r *MatchRepository) FindTerminalBefore(ctx context.Context, cutoff time.Time) ([]models.Match, error) {
	var out []models.Match
	for _, status := range []models.MatchStatus{models.MatchCompleted, models.MatchAbandoned} {
		var matches []models.Match
		err := r.Store.Query(ctx, matchesCollection, []store.Filter{
			store.Eq("status", status),
			store.Lt("completed_at", cutoff.UTC()),
		}, &matches)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		out = append(out, matches...)
	}
	return out, nil
}

// Delete removes the match document. Deleting an already-deleted match is
// not an error.
func (r *MatchRepository) Delete(ctx context.Context, id string) error {
	err := r.Store.Delete(ctx, matchesCollection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return mapStoreErr(err)
}

// Watch streams match document changes until ctx cancel.
func (r *MatchRepository) Watch(ctx context.Context, matchID string) (<-chan []byte, error) {
	ch, err := r.Store.Watch(ctx, matchesCollection, matchID)
	return ch, mapStoreErr(err)
}
