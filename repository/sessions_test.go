package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-match-system/models"
	"dice-match-system/store"
)

func snapshot(id string) models.PlayerSnapshot {
	return models.PlayerSnapshot{PlayerID: id, DisplayName: "Player " + id}
}

func newSessionRepo(t *testing.T) (*SessionRepository, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewSessionRepository(store.NewMemoryStore(), clock), clock
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	repo, clock := newSessionRepo(t)
	ctx := context.Background()

	settings := map[string]json.RawMessage{"rounds": json.RawMessage(`3`)}
	created, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("p1"), settings, 0)
	require.NoError(t, err)
	assert.Equal(t, models.SessionWaiting, created.Status)
	assert.Equal(t, clock.Now().UTC().Add(DefaultSessionTTL), created.ExpiresAt)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.HostData.PlayerID)
	assert.Equal(t, settings, got.GameData)
	assert.Nil(t, got.OpponentData)
}

func TestSessionRepository_AttemptJoin_ExactlyOneWinner(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	session, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("host"), nil, 0)
	require.NoError(t, err)

	const joiners = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	wg.Add(joiners)
	for i := 0; i < joiners; i++ {
		go func(n int) {
			defer wg.Done()
			joiner := snapshot(fmt.Sprintf("p%d", n))
			joined, err := repo.AttemptJoin(ctx, session.ID, joiner)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, joined.OpponentData.PlayerID)
			} else {
				assert.ErrorIs(t, err, models.ErrConflict)
				losers++
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one joiner may claim the session")
	assert.Equal(t, joiners-1, losers)

	final, err := repo.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionMatched, final.Status)
	assert.Equal(t, winners[0], final.OpponentData.PlayerID)
}

func TestSessionRepository_AttemptJoin_RejectsSelfAndExpired(t *testing.T) {
	repo, clock := newSessionRepo(t)
	ctx := context.Background()

	session, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("host"), nil, time.Minute)
	require.NoError(t, err)

	_, err = repo.AttemptJoin(ctx, session.ID, snapshot("host"))
	assert.ErrorIs(t, err, models.ErrConflict, "a player can never match themselves")

	clock.Advance(2 * time.Minute)
	_, err = repo.AttemptJoin(ctx, session.ID, snapshot("p2"))
	assert.ErrorIs(t, err, models.ErrConflict, "expired sessions are not joinable")
}

func TestSessionRepository_AttemptJoin_ConstraintsPinThePair(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore()
	repo := NewSessionRepository(st, clock)
	ctx := context.Background()

	// A waiting room restricted to p2, the shape a targeted flow produces
	// before the opponent arrives.
	now := clock.Now().UTC()
	pinned := &models.Session{
		ID:          "pinned",
		SessionType: models.SessionTypeFriend,
		GameMode:    "classic",
		Status:      models.SessionWaiting,
		HostData:    snapshot("p1"),
		Constraints: &models.SessionConstraints{AllowedPlayerIDs: []string{"p1", "p2"}},
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	require.NoError(t, st.Insert(ctx, sessionsCollection, pinned.ID, pinned))

	var authErr *models.AuthorizationError
	_, err := repo.AttemptJoin(ctx, pinned.ID, snapshot("stranger"))
	require.ErrorAs(t, err, &authErr, "constraints exclude everyone but the pair")

	joined, err := repo.AttemptJoin(ctx, pinned.ID, snapshot("p2"))
	require.NoError(t, err)
	assert.Equal(t, models.SessionMatched, joined.Status)
}

func TestSessionRepository_FindOpen(t *testing.T) {
	repo, clock := newSessionRepo(t)
	ctx := context.Background()

	own, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("me"), nil, 0)
	require.NoError(t, err)
	other, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("p2"), nil, 0)
	require.NoError(t, err)
	_, err = repo.Create(ctx, models.SessionTypeQuick, "blitz", snapshot("p3"), nil, 0)
	require.NoError(t, err)
	_, err = repo.Create(ctx, models.SessionTypeRanked, "classic", snapshot("p4"), nil, 0)
	require.NoError(t, err)
	stale, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("p5"), nil, time.Minute)
	require.NoError(t, err)
	pinned, err := repo.CreateMatched(ctx, models.SessionTypeQuick, "classic",
		snapshot("p6"), snapshot("p7"), nil, nil, 0)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute) // expires stale only

	open, err := repo.FindOpen(ctx, models.SessionTypeQuick, "classic", "me")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, other.ID, open[0].ID)
	for _, s := range open {
		assert.NotEqual(t, own.ID, s.ID, "own session is never a candidate")
		assert.NotEqual(t, stale.ID, s.ID)
		assert.NotEqual(t, pinned.ID, s.ID)
	}
}

func TestSessionRepository_FindOpenOwnedBy(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	_, err := repo.FindOpenOwnedBy(ctx, "p1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	session, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("p1"), nil, 0)
	require.NoError(t, err)

	found, err := repo.FindOpenOwnedBy(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)

	// Matched sessions count too — joining one still blocks a new search.
	joined, err := repo.AttemptJoin(ctx, session.ID, snapshot("p2"))
	require.NoError(t, err)
	found, err = repo.FindOpenOwnedBy(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, joined.ID, found.ID)
}

func TestSessionRepository_Cancel(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	session, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("host"), nil, 0)
	require.NoError(t, err)

	var authErr *models.AuthorizationError
	err = repo.Cancel(ctx, session.ID, "stranger")
	require.ErrorAs(t, err, &authErr, "only the host may cancel a waiting session")

	require.NoError(t, repo.Cancel(ctx, session.ID, "host"))
	_, err = repo.Get(ctx, session.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Either attached player may cancel a matched session.
	matched, err := repo.CreateMatched(ctx, models.SessionTypeFriend, "classic",
		snapshot("p1"), snapshot("p2"), nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Cancel(ctx, matched.ID, "p2"))
}

func TestSessionRepository_MarkReady(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	session, err := repo.CreateMatched(ctx, models.SessionTypeRematch, "classic",
		snapshot("p1"), snapshot("p2"), []string{"p1"}, nil, 0)
	require.NoError(t, err)

	updated, err := repo.MarkReady(ctx, session.ID, "p2")
	require.NoError(t, err)
	assert.True(t, updated.IsReady("p1"))
	assert.True(t, updated.IsReady("p2"))

	// Readying twice is idempotent.
	updated, err = repo.MarkReady(ctx, session.ID, "p2")
	require.NoError(t, err)
	assert.Len(t, updated.ReadyPlayers, 2)

	var authErr *models.AuthorizationError
	_, err = repo.MarkReady(ctx, session.ID, "stranger")
	assert.ErrorAs(t, err, &authErr)
}

func TestSessionRepository_ExpiryLifecycle(t *testing.T) {
	repo, clock := newSessionRepo(t)
	ctx := context.Background()

	fresh, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("p1"), nil, time.Hour)
	require.NoError(t, err)
	stale, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot("p2"), nil, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	expired, err := repo.FindExpired(ctx, clock.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	require.NoError(t, repo.MarkExpired(ctx, stale.ID))
	got, err := repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, got.Status)

	_, err = repo.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestSessionRepository_CountOpenByMode(t *testing.T) {
	repo, _ := newSessionRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, models.SessionTypeQuick, "classic", snapshot(fmt.Sprintf("q%d", i)), nil, 0)
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, models.SessionTypeRanked, "classic", snapshot("r1"), nil, 0)
	require.NoError(t, err)

	counts, err := repo.CountOpenByMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts["quick/classic"])
	assert.Equal(t, 1, counts["ranked/classic"])
}
