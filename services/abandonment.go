package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/repository"
)

// Liveness thresholds. A player whose heartbeat is older than SuspectAfter
// is suspect; older than ClaimAfter and the opponent may claim the win.
const (
	DefaultSuspectAfter = 15 * time.Second
	DefaultClaimAfter   = 300 * time.Second
	DefaultLivenessPoll = 5 * time.Second
)

// livenessState is the watcher's per-player detection state.
type livenessState int

const (
	livenessActive livenessState = iota
	livenessSuspect
	livenessAbandoned
)

// AbandonmentMonitor runs one watcher per active match. Each watcher
// periodically re-reads both heartbeats, logs suspect transitions and
// auto-claims the win for the surviving player once the claim threshold
// fully elapses. A fresh heartbeat reverts the state and cancels the
// pending claim. Watchers carry a cancellation tied to match completion —
// no dangling interval timers.
type AbandonmentMonitor struct {
	Matches *repository.MatchRepository
	Ranking RankingService
	Clock   clockwork.Clock

	SuspectAfter time.Duration
	ClaimAfter   time.Duration
	PollInterval time.Duration

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewAbandonmentMonitor(matches *repository.MatchRepository, ranking RankingService, clock clockwork.Clock) *AbandonmentMonitor {
	return &AbandonmentMonitor{
		Matches:      matches,
		Ranking:      ranking,
		Clock:        clock,
		SuspectAfter: DefaultSuspectAfter,
		ClaimAfter:   DefaultClaimAfter,
		PollInterval: DefaultLivenessPoll,
		watchers:     make(map[string]context.CancelFunc),
	}
}

// Track starts a watcher for the match. Tracking an already-watched match
// is a no-op, so promotion can call it unconditionally.
func (a *AbandonmentMonitor) Track(matchID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.watchers[matchID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.watchers[matchID] = cancel
	a.wg.Add(1)
	go a.watch(ctx, matchID)
}

// Stop cancels the watcher for one match.
func (a *AbandonmentMonitor) Stop(matchID string) {
	a.mu.Lock()
	cancel, ok := a.watchers[matchID]
	if ok {
		delete(a.watchers, matchID)
	}
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// Resume re-arms a watcher for every match that was active before a process
// restart, so abandonment detection never depends on the instance that
// promoted the match staying alive.
func (a *AbandonmentMonitor) Resume(ctx context.Context) error {
	matches, err := a.Matches.FindActive(ctx)
	if err != nil {
		return err
	}
	for i := range matches {
		a.Track(matches[i].ID)
	}
	if len(matches) > 0 {
		log.Printf("[Abandonment] resumed watchers for %d active matches", len(matches))
	}
	return nil
}

// StopAll cancels every watcher and waits for them to drain. Called on
// shutdown.
func (a *AbandonmentMonitor) StopAll() {
	a.mu.Lock()
	for id, cancel := range a.watchers {
		cancel()
		delete(a.watchers, id)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *AbandonmentMonitor) watch(ctx context.Context, matchID string) {
	defer a.wg.Done()
	defer a.Stop(matchID)

	states := map[string]livenessState{}
	ticker := a.Clock.NewTicker(a.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		match, err := a.Matches.Get(ctx, matchID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return
			}
			log.Printf("[Abandonment] read of match %s failed: %v", matchID, err)
			continue
		}
		if match.IsTerminal() {
			return
		}

		now := a.Clock.Now()
		for _, playerID := range match.AuthorizedPlayers {
			age := match.HeartbeatAge(playerID, now)
			prev := states[playerID]

			switch {
			case age >= a.ClaimAfter:
				if prev != livenessAbandoned {
					states[playerID] = livenessAbandoned
					log.Printf("[Abandonment] match %s: player %s gone for %s, auto-claiming for opponent", matchID, playerID, age.Round(time.Second))
				}
				survivor := match.OpponentID(playerID)
				if _, err := a.Claim(ctx, matchID, survivor); err != nil {
					// A heartbeat may have landed between our read and the
					// claim transaction — keep watching in that case.
					log.Printf("[Abandonment] auto-claim on match %s for %s did not land: %v", matchID, survivor, err)
					states[playerID] = livenessSuspect
					continue
				}
				return
			case age >= a.SuspectAfter:
				if prev == livenessActive {
					states[playerID] = livenessSuspect
					log.Printf("[Abandonment] match %s: player %s heartbeat stale (%s), opponent notified", matchID, playerID, age.Round(time.Second))
				}
			default:
				if prev != livenessActive {
					states[playerID] = livenessActive
					log.Printf("[Abandonment] match %s: player %s heartbeat fresh again, claim cancelled", matchID, playerID)
				}
			}
		}
	}
}

// Claim ends the match in claimant's favor because the opponent abandoned.
// The staleness precondition is re-verified inside the store transaction, so
// a heartbeat that lands between read and write wins over the claim. Claims
// on already-completed matches are no-ops, which is how two near-simultaneous
// claims resolve to exactly one winner.
func (a *AbandonmentMonitor) Claim(ctx context.Context, matchID, claimantID string) (*models.Match, error) {
	probe, err := a.Matches.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !probe.IsAuthorized(claimantID) {
		return nil, &models.AuthorizationError{PlayerID: claimantID, Resource: "match " + matchID}
	}
	if probe.IsTerminal() {
		return probe, nil
	}

	match, claimedNow, err := a.Matches.Finish(ctx, matchID, models.MatchCompleted, claimantID, models.EndReasonOpponentAbandoned,
		func(m *models.Match) error {
			opponentID := m.OpponentID(claimantID)
			if opponentID == "" {
				return &models.AuthorizationError{PlayerID: claimantID, Resource: "match " + matchID}
			}
			if m.HeartbeatAge(opponentID, a.Clock.Now()) < a.ClaimAfter {
				return &models.NotEligibleError{Reason: "opponent is still active"}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	if claimedNow {
		log.Printf("[Abandonment] match %s completed: %s wins by abandonment", matchID, claimantID)
		a.recordResult(ctx, match)
		a.Stop(matchID)
	}
	return match, nil
}

// recordResult pushes the outcome to the ranking collaborator with bounded
// retries. Ranking being down must never corrupt or block the terminal
// match write, so failures are logged and dropped.
func (a *AbandonmentMonitor) recordResult(ctx context.Context, match *models.Match) {
	if a.Ranking == nil || match.SessionType != models.SessionTypeRanked {
		return
	}
	policy := RetryPolicy{Delays: []time.Duration{time.Second, 3 * time.Second}}
	err := policy.Run(ctx, a.Clock,
		func(err error) bool { return errors.Is(err, models.ErrUnavailable) },
		func() error { return a.Ranking.RecordResult(ctx, match) },
	)
	if err != nil {
		log.Printf("[Abandonment] ranking update for match %s failed: %v", match.ID, err)
	}
}
