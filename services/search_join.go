package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/repository"
)

// FindMatchResult is what findMatch hands back to the client. Exactly one of
// SessionID / InvitationID is set: friend invites produce an invitation, not
// a waiting room.
type FindMatchResult struct {
	SessionID    string `json:"session_id,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`
	IsNewSession bool   `json:"is_new_session"`
	HasOpponent  bool   `json:"has_opponent"`
}

// errNoOpenSession signals an empty search round. The store has
// read-after-write lag, so an empty result is not conclusive — the retry
// policy gives concurrent hosts a chance to become visible.
var errNoOpenSession = errors.New("no open session found")

// JoinFilter vets a join candidate before the claim is attempted. Returning
// *models.NotEligibleError skips the candidate and is remembered; any other
// error aborts the search.
type JoinFilter func(ctx context.Context, candidate *models.Session) error

// maxJoinConflicts caps how many lost join races trigger an immediate
// re-search before the player falls back to hosting. Same budget as the
// empty-search retries.
const maxJoinConflicts = 3

// SearchJoinEngine finds a joinable waiting room for a type+mode or creates
// a new one. Policy is first-found, not best-match: skill narrowing is
// deliberately off to maximize liquidity.
type SearchJoinEngine struct {
	Sessions   *repository.SessionRepository
	Clock      clockwork.Clock
	Backoff    RetryPolicy
	SessionTTL time.Duration
}

func NewSearchJoinEngine(sessions *repository.SessionRepository, clock clockwork.Clock) *SearchJoinEngine {
	return &SearchJoinEngine{
		Sessions:   sessions,
		Clock:      clock,
		Backoff:    DefaultSearchBackoff,
		SessionTTL: repository.DefaultSessionTTL,
	}
}

// SearchOrCreate implements the open-pool flow: join the first candidate
// that passes the filter, absorb read-after-write lag with bounded backoff,
// re-search immediately after a lost claim race, and host a fresh waiting
// room once the budget is spent.
func (e *SearchJoinEngine) SearchOrCreate(ctx context.Context, sessionType models.SessionType, gameMode string, host models.PlayerSnapshot, gameData map[string]json.RawMessage, filter JoinFilter) (*FindMatchResult, error) {
	var (
		result         *FindMatchResult
		notEligible    *models.NotEligibleError
		conflictsSpent int
	)

	searchOnce := func() error {
		for {
			candidates, err := e.Sessions.FindOpen(ctx, sessionType, gameMode, host.PlayerID)
			if err != nil {
				return err
			}
			joinable := false
			for i := range candidates {
				candidate := &candidates[i]
				if filter != nil {
					if ferr := filter(ctx, candidate); ferr != nil {
						var ne *models.NotEligibleError
						if errors.As(ferr, &ne) {
							notEligible = ne
							continue
						}
						return ferr
					}
				}
				joinable = true

				joined, err := e.Sessions.AttemptJoin(ctx, candidate.ID, host)
				if err == nil {
					result = &FindMatchResult{SessionID: joined.ID, HasOpponent: true}
					return nil
				}
				// Lost the race or the room vanished mid-join — both mean
				// "move on", never "give up".
				if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
					break
				}
				return err
			}
			if !joinable {
				return errNoOpenSession
			}
			conflictsSpent++
			if conflictsSpent > maxJoinConflicts {
				log.Printf("[SearchJoin] player %s exhausted %d join attempts for %s/%s, hosting instead",
					host.PlayerID, conflictsSpent, sessionType, gameMode)
				return errNoOpenSession
			}
			// Immediate re-search: another concurrent room may be open now.
		}
	}

	err := e.Backoff.Run(ctx, e.Clock,
		func(err error) bool { return errors.Is(err, errNoOpenSession) },
		searchOnce,
	)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, errNoOpenSession) {
		return nil, err
	}

	// Nothing joinable within the budget. If a candidate existed but policy
	// forbade it (ranked against a friend), surface that instead of hosting.
	if notEligible != nil {
		return nil, notEligible
	}

	session, err := e.Sessions.Create(ctx, sessionType, gameMode, host, gameData, e.SessionTTL)
	if err != nil {
		return nil, err
	}
	log.Printf("[SearchJoin] player %s now hosting %s/%s session %s", host.PlayerID, sessionType, gameMode, session.ID)
	return &FindMatchResult{SessionID: session.ID, IsNewSession: true}, nil
}
