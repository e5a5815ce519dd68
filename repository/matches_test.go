package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-match-system/models"
	"dice-match-system/store"
)

func newMatchRepo(t *testing.T) (*MatchRepository, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewMatchRepository(store.NewMemoryStore(), clock), clock
}

func activeMatch(sessionID string, now time.Time) *models.Match {
	return &models.Match{
		ID:                MatchIDForSession(sessionID),
		OriginalSessionID: sessionID,
		GameMode:          "classic",
		SessionType:       models.SessionTypeQuick,
		Status:            models.MatchActive,
		HostData:          models.MatchPlayer{PlayerSnapshot: snapshot("p1")},
		OpponentData:      models.MatchPlayer{PlayerSnapshot: snapshot("p2")},
		AuthorizedPlayers: []string{"p1", "p2"},
		Heartbeats:        map[string]time.Time{"p1": now, "p2": now},
		CreatedAt:         now,
		StartedAt:         now,
	}
}

func TestMatchIDForSession_Deterministic(t *testing.T) {
	a := MatchIDForSession("session-1")
	b := MatchIDForSession("session-1")
	c := MatchIDForSession("session-2")
	assert.Equal(t, a, b, "same session always derives the same match id")
	assert.NotEqual(t, a, c)
}

func TestMatchRepository_CreateIsCreateOnce(t *testing.T) {
	repo, clock := newMatchRepo(t)
	ctx := context.Background()
	m := activeMatch("s1", clock.Now().UTC())

	require.NoError(t, repo.Create(ctx, m))
	err := repo.Create(ctx, m)
	assert.ErrorIs(t, err, models.ErrConflict, "second promoter loses the insert race")

	got, err := repo.FindBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestMatchRepository_RecordHeartbeat(t *testing.T) {
	repo, clock := newMatchRepo(t)
	ctx := context.Background()
	m := activeMatch("s1", clock.Now().UTC())
	require.NoError(t, repo.Create(ctx, m))

	clock.Advance(10 * time.Second)
	at := clock.Now()
	require.NoError(t, repo.RecordHeartbeat(ctx, m.ID, "p1", at))

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, at.UTC(), got.Heartbeats["p1"])
	assert.Zero(t, got.HeartbeatAge("p1", at))
	assert.Equal(t, 10*time.Second, got.HeartbeatAge("p2", at))

	var authErr *models.AuthorizationError
	err = repo.RecordHeartbeat(ctx, m.ID, "stranger", at)
	assert.ErrorAs(t, err, &authErr)
}

func TestMatchRepository_FinishIsIdempotent(t *testing.T) {
	repo, clock := newMatchRepo(t)
	ctx := context.Background()
	m := activeMatch("s1", clock.Now().UTC())
	require.NoError(t, repo.Create(ctx, m))

	first, finishedNow, err := repo.Finish(ctx, m.ID, models.MatchCompleted, "p1", models.EndReasonCompleted, nil)
	require.NoError(t, err)
	assert.True(t, finishedNow)
	assert.Equal(t, "p1", first.WinnerID)
	require.NotNil(t, first.CompletedAt)

	// A later claim for the other player must not overwrite the result.
	second, finishedNow, err := repo.Finish(ctx, m.ID, models.MatchCompleted, "p2", models.EndReasonOpponentAbandoned, nil)
	require.NoError(t, err)
	assert.False(t, finishedNow)
	assert.Equal(t, "p1", second.WinnerID)
	assert.Equal(t, models.EndReasonCompleted, second.EndReason)
}

func TestMatchRepository_FinishVerifyRunsInTransaction(t *testing.T) {
	repo, clock := newMatchRepo(t)
	ctx := context.Background()
	m := activeMatch("s1", clock.Now().UTC())
	require.NoError(t, repo.Create(ctx, m))

	wantErr := &models.NotEligibleError{Reason: "opponent is still active"}
	_, _, err := repo.Finish(ctx, m.ID, models.MatchCompleted, "p1", models.EndReasonOpponentAbandoned,
		func(cur *models.Match) error { return wantErr })
	var ne *models.NotEligibleError
	require.ErrorAs(t, err, &ne)

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchActive, got.Status, "failed verify must abort the terminal write")
}

func TestMatchRepository_FindRecentActiveFor(t *testing.T) {
	repo, clock := newMatchRepo(t)
	ctx := context.Background()
	now := clock.Now().UTC()

	old := activeMatch("s-old", now.Add(-time.Hour))
	require.NoError(t, repo.Create(ctx, old))
	fresh := activeMatch("s-fresh", now)
	require.NoError(t, repo.Create(ctx, fresh))

	got, err := repo.FindRecentActiveFor(ctx, "p1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)

	_, err = repo.FindRecentActiveFor(ctx, "stranger", now.Add(-time.Minute))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMatchRepository_ReaperQueries(t *testing.T) {
	repo, clock := newMatchRepo(t)
	ctx := context.Background()
	now := clock.Now().UTC()

	live := activeMatch("s-live", now)
	require.NoError(t, repo.Create(ctx, live))
	done := activeMatch("s-done", now)
	require.NoError(t, repo.Create(ctx, done))
	_, _, err := repo.Finish(ctx, done.ID, models.MatchCompleted, "p1", models.EndReasonCompleted, nil)
	require.NoError(t, err)

	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	clock.Advance(time.Hour)
	terminal, err := repo.FindTerminalBefore(ctx, clock.Now())
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, done.ID, terminal[0].ID)

	require.NoError(t, repo.Delete(ctx, done.ID))
	require.NoError(t, repo.Delete(ctx, done.ID), "deleting twice is not an error")
}
