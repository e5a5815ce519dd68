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

func newInvitationRepo(t *testing.T) (*InvitationRepository, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewInvitationRepository(store.NewMemoryStore(), clock), clock
}

func TestInvitationRepository_AcceptLifecycle(t *testing.T) {
	repo, _ := newInvitationRepo(t)
	ctx := context.Background()

	inv, err := repo.Create(ctx, "classic", snapshot("p1"), snapshot("p2"), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, inv.Status)

	// Only the invitee may answer.
	var authErr *models.AuthorizationError
	_, err = repo.MarkAccepted(ctx, inv.ID, "p1")
	require.ErrorAs(t, err, &authErr)

	accepted, err := repo.MarkAccepted(ctx, inv.ID, "p2")
	require.NoError(t, err)
	assert.Equal(t, models.InvitationAccepted, accepted.Status)

	// No longer pending: a second answer loses.
	_, err = repo.MarkAccepted(ctx, inv.ID, "p2")
	assert.ErrorIs(t, err, models.ErrConflict)
	err = repo.MarkDeclined(ctx, inv.ID, "p2")
	assert.ErrorIs(t, err, models.ErrConflict)

	require.NoError(t, repo.SetSessionID(ctx, inv.ID, "session-1"))
	got, err := repo.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "session-1", got.SessionID)
}

func TestInvitationRepository_ExpiredInviteCannotBeAccepted(t *testing.T) {
	repo, clock := newInvitationRepo(t)
	ctx := context.Background()

	inv, err := repo.Create(ctx, "classic", snapshot("p1"), snapshot("p2"), nil, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = repo.MarkAccepted(ctx, inv.ID, "p2")
	assert.ErrorIs(t, err, models.ErrConflict)

	expired, err := repo.FindExpired(ctx, clock.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, inv.ID, expired[0].ID)

	require.NoError(t, repo.MarkExpired(ctx, inv.ID))
	got, err := repo.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationExpired, got.Status)
}
