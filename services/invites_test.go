package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-match-system/models"
)

func TestCreateFriendInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Not friends yet.
	var ne *models.NotEligibleError
	_, err := f.Invites.CreateFriendInvite(ctx, "p1", "p2", "classic", nil)
	require.ErrorAs(t, err, &ne)
	assert.Contains(t, ne.Reason, "not connected")

	var vErr *models.ValidationError
	_, err = f.Invites.CreateFriendInvite(ctx, "p1", "p1", "classic", nil)
	require.ErrorAs(t, err, &vErr)

	f.Social.friends[pairKey("p1", "p2")] = true
	inv, err := f.Invites.CreateFriendInvite(ctx, "p1", "p2", "classic", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationPending, inv.Status)
	assert.Equal(t, "p1", inv.FromData.PlayerID)
	assert.Equal(t, "p2", inv.ToData.PlayerID)
	assert.Equal(t, f.Clock.Now().UTC().Add(f.Invites.InvitationTTL), inv.ExpiresAt)
}

func TestAcceptInvite_CreatesReadyPinnedSession(t *testing.T) {
	f := newFixture(t)
	f.Social.friends[pairKey("p1", "p2")] = true
	ctx := context.Background()

	settings := map[string]json.RawMessage{"dice_skin": json.RawMessage(`"gold"`)}
	inv, err := f.Invites.CreateFriendInvite(ctx, "p1", "p2", "classic", settings)
	require.NoError(t, err)

	session, err := f.Invites.AcceptInvite(ctx, inv.ID, "p2")
	require.NoError(t, err)
	assert.Equal(t, models.SessionMatched, session.Status)
	assert.Equal(t, models.SessionTypeFriend, session.SessionType)
	assert.Equal(t, settings, session.GameData, "the inviter's settings ride the session")
	assert.True(t, session.IsReady("p1"))
	assert.True(t, session.IsReady("p2"))
	require.NotNil(t, session.Constraints)
	assert.ElementsMatch(t, []string{"p1", "p2"}, session.Constraints.AllowedPlayerIDs)

	// The inviter's subscription learns the session id.
	got, err := f.Invitations.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.SessionID)

	// Born-matched sessions promote straight away.
	match, err := f.Promotion.Promote(ctx, session.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchActive, match.Status)
}

func TestAcceptInvite_OnlyOnceAndOnlyInvitee(t *testing.T) {
	f := newFixture(t)
	f.Social.friends[pairKey("p1", "p2")] = true
	ctx := context.Background()

	inv, err := f.Invites.CreateFriendInvite(ctx, "p1", "p2", "classic", nil)
	require.NoError(t, err)

	var authErr *models.AuthorizationError
	_, err = f.Invites.AcceptInvite(ctx, inv.ID, "p1")
	require.ErrorAs(t, err, &authErr, "the inviter cannot accept their own invitation")

	_, err = f.Invites.AcceptInvite(ctx, inv.ID, "p2")
	require.NoError(t, err)

	var ne *models.NotEligibleError
	_, err = f.Invites.AcceptInvite(ctx, inv.ID, "p2")
	assert.ErrorAs(t, err, &ne, "a second accept finds the invitation no longer pending")
}

func TestDeclineInvite(t *testing.T) {
	f := newFixture(t)
	f.Social.friends[pairKey("p1", "p2")] = true
	ctx := context.Background()

	inv, err := f.Invites.CreateFriendInvite(ctx, "p1", "p2", "classic", nil)
	require.NoError(t, err)

	require.NoError(t, f.Invites.DeclineInvite(ctx, inv.ID, "p2"))
	_, err = f.Invitations.Get(ctx, inv.ID)
	assert.ErrorIs(t, err, models.ErrNotFound, "declined invitations leave no session behind")
}

func finishedMatch(t *testing.T, f *fixture) *models.Match {
	t.Helper()
	ctx := context.Background()
	match := promotedMatch(t, f, models.SessionTypeQuick)
	_, _, err := f.Matches.Finish(ctx, match.ID, models.MatchCompleted, "p1", models.EndReasonCompleted, nil)
	require.NoError(t, err)
	return match
}

func TestCreateRematch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := finishedMatch(t, f)

	session, err := f.Invites.CreateRematch(ctx, "p1", original.ID, "p2")
	require.NoError(t, err)
	assert.Equal(t, models.SessionTypeRematch, session.SessionType)
	assert.True(t, session.IsReady("p1"))
	assert.False(t, session.IsReady("p2"), "only the requester is readied until the opponent answers")
	assert.Equal(t, f.Clock.Now().UTC().Add(DefaultRematchTTL), session.ExpiresAt)
}

func TestCreateRematch_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Still-active match.
	live := promotedMatch(t, f, models.SessionTypeQuick)
	var vErr *models.ValidationError
	_, err := f.Invites.CreateRematch(ctx, "p1", live.ID, "p2")
	require.ErrorAs(t, err, &vErr)

	original := finishedMatch(t, f)

	var authErr *models.AuthorizationError
	_, err = f.Invites.CreateRematch(ctx, "stranger", original.ID, "p2")
	require.ErrorAs(t, err, &authErr)

	_, err = f.Invites.CreateRematch(ctx, "p1", original.ID, "p9")
	require.ErrorAs(t, err, &vErr, "the target must be the opponent from the original match")
}

func TestRespondRematch_Accept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := finishedMatch(t, f)

	session, err := f.Invites.CreateRematch(ctx, "p1", original.ID, "p2")
	require.NoError(t, err)

	outcome, err := f.Invites.RespondRematch(ctx, session.ID, "p2", true)
	require.NoError(t, err)
	assert.Equal(t, models.RematchAccepted, outcome)

	// Both ready now, so either player may promote; the new match is a
	// different record from the original.
	match, err := f.Promotion.Promote(ctx, session.ID, "p2")
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, match.ID)
	assert.Equal(t, models.SessionTypeRematch, match.SessionType)
}

func TestRespondRematch_Decline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := finishedMatch(t, f)

	session, err := f.Invites.CreateRematch(ctx, "p1", original.ID, "p2")
	require.NoError(t, err)

	outcome, err := f.Invites.RespondRematch(ctx, session.ID, "p2", false)
	require.NoError(t, err)
	assert.Equal(t, models.RematchDeclined, outcome)

	_, err = f.Sessions.Get(ctx, session.ID)
	assert.ErrorIs(t, err, models.ErrNotFound, "declined rematch rooms are torn down")
}

func TestRespondRematch_Timeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := finishedMatch(t, f)

	session, err := f.Invites.CreateRematch(ctx, "p1", original.ID, "p2")
	require.NoError(t, err)

	f.Clock.Advance(DefaultRematchTTL + time.Second)
	outcome, err := f.Invites.RespondRematch(ctx, session.ID, "p2", true)
	require.NoError(t, err)
	assert.Equal(t, models.RematchTimeout, outcome)

	// Same answer if the reaper already collected the room.
	require.NoError(t, f.Sessions.Delete(ctx, session.ID))
	outcome, err = f.Invites.RespondRematch(ctx, session.ID, "p2", true)
	require.NoError(t, err)
	assert.Equal(t, models.RematchTimeout, outcome)
}
