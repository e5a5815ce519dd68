package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/repository"
	"dice-match-system/store"
)

func snapshot(id string) models.PlayerSnapshot {
	return models.PlayerSnapshot{PlayerID: id, DisplayName: "Player " + id}
}

func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

// fakeSocial answers friendship queries from a fixed set of pairs.
type fakeSocial struct {
	mu      sync.Mutex
	friends map[string]bool
	err     error
}

func newFakeSocial(pairs ...[2]string) *fakeSocial {
	f := &fakeSocial{friends: make(map[string]bool)}
	for _, p := range pairs {
		f.friends[pairKey(p[0], p[1])] = true
	}
	return f
}

func (f *fakeSocial) AreConnected(ctx context.Context, a, b string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.friends[pairKey(a, b)], nil
}

// fakeProfiles serves snapshots for any player id.
type fakeProfiles struct {
	mu   sync.Mutex
	err  error
	fail int // fail the next N calls with err
}

func (f *fakeProfiles) GetPlayerSnapshot(ctx context.Context, playerID string) (models.PlayerSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return models.PlayerSnapshot{}, f.err
	}
	return snapshot(playerID), nil
}

// fakeRanking records results and reports period state.
type fakeRanking struct {
	mu       sync.Mutex
	active   bool
	err      error
	fail     int // fail the next N calls with err
	recorded []*models.Match
}

func (f *fakeRanking) HasActivePeriod(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return false, f.err
	}
	return f.active, nil
}

func (f *fakeRanking) RecordResult(ctx context.Context, match *models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return f.err
	}
	f.recorded = append(f.recorded, match)
	return nil
}

func (f *fakeRanking) recordedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

// fakeTournaments answers registration checks from a fixed set.
type fakeTournaments struct {
	mu         sync.Mutex
	registered map[string]bool // tournamentID|playerID
	err        error
}

func (f *fakeTournaments) IsRegistered(ctx context.Context, tournamentID, playerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.registered[tournamentID+"|"+playerID], nil
}

// fixture wires the full service stack onto a memory store.
type fixture struct {
	Clock       *clockwork.FakeClock
	Store       *store.MemoryStore
	Sessions    *repository.SessionRepository
	Matches     *repository.MatchRepository
	Invitations *repository.InvitationRepository
	Social      *fakeSocial
	Profiles    *fakeProfiles
	Ranking     *fakeRanking
	Tournaments *fakeTournaments
	Monitor     *AbandonmentMonitor
	Engine      *SearchJoinEngine
	Promotion   *PromotionService
	Invites     *InviteService
	Matchmaking *MatchmakingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore()

	f := &fixture{
		Clock:       clock,
		Store:       st,
		Sessions:    repository.NewSessionRepository(st, clock),
		Matches:     repository.NewMatchRepository(st, clock),
		Invitations: repository.NewInvitationRepository(st, clock),
		Social:      newFakeSocial(),
		Profiles:    &fakeProfiles{},
		Ranking:     &fakeRanking{active: true},
		Tournaments: &fakeTournaments{registered: make(map[string]bool)},
	}
	f.Monitor = NewAbandonmentMonitor(f.Matches, f.Ranking, clock)
	f.Engine = NewSearchJoinEngine(f.Sessions, clock)
	// Single search attempt keeps tests deterministic; backoff behavior has
	// its own real-clock test.
	f.Engine.Backoff = RetryPolicy{}
	f.Promotion = NewPromotionService(f.Sessions, f.Matches, f.Monitor, clock)
	f.Invites = NewInviteService(f.Invitations, f.Sessions, f.Matches, f.Social, f.Profiles, clock)
	f.Matchmaking = &MatchmakingService{
		Sessions:            f.Sessions,
		Engine:              f.Engine,
		Promotion:           f.Promotion,
		Invites:             f.Invites,
		Social:              f.Social,
		Profiles:            f.Profiles,
		Ranking:             f.Ranking,
		Tournaments:         f.Tournaments,
		Clock:               clock,
		CollaboratorBackoff: RetryPolicy{},
	}
	t.Cleanup(f.Monitor.StopAll)
	return f
}
