package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/store"
)

// DefaultInvitationTTL is the short expiry on pending friend invites.
const DefaultInvitationTTL = 5 * time.Minute

// InvitationRepository owns the pending friend-invite documents.
type InvitationRepository struct {
	Store store.Store
	Clock clockwork.Clock
}

func NewInvitationRepository(st store.Store, clock clockwork.Clock) *InvitationRepository {
	return &InvitationRepository{Store: st, Clock: clock}
}

func (r *InvitationRepository) Create(ctx context.Context, gameMode string, from, to models.PlayerSnapshot, gameData map[string]json.RawMessage, ttl time.Duration) (*models.Invitation, error) {
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	now := r.Clock.Now().UTC()
	inv := &models.Invitation{
		ID:        uuid.NewString(),
		GameMode:  gameMode,
		Status:    models.InvitationPending,
		FromData:  from,
		ToData:    to,
		GameData:  gameData,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := r.Store.Insert(ctx, invitationsCollection, inv.ID, inv); err != nil {
		return nil, mapStoreErr(err)
	}
	return inv, nil
}

func (r *InvitationRepository) Get(ctx context.Context, id string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := r.Store.Get(ctx, invitationsCollection, id, &inv); err != nil {
		return nil, mapStoreErr(err)
	}
	return &inv, nil
}

func (r *InvitationRepository) Delete(ctx context.Context, id string) error {
	return mapStoreErr(r.Store.Delete(ctx, invitationsCollection, id))
}

// MarkAccepted transitions pending → accepted, atomically re-checking that
// the caller is the invitee and the invite hasn't expired. Exactly one of a
// racing accept/decline/expiry wins the transition.
func (r *InvitationRepository) MarkAccepted(ctx context.Context, id, playerID string) (*models.Invitation, error) {
	var accepted models.Invitation
	err := updateDoc(ctx, r.Store, invitationsCollection, id, func(inv *models.Invitation) error {
		if inv.ToData.PlayerID != playerID {
			return &models.AuthorizationError{PlayerID: playerID, Resource: "invitation " + id}
		}
		if inv.Status != models.InvitationPending {
			return models.ErrConflict
		}
		if inv.IsExpired(r.Clock.Now()) {
			return models.ErrConflict
		}
		inv.Status = models.InvitationAccepted
		accepted = *inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &accepted, nil
}

// MarkDeclined transitions pending → declined under the same rules.
func (r *InvitationRepository) MarkDeclined(ctx context.Context, id, playerID string) error {
	return updateDoc(ctx, r.Store, invitationsCollection, id, func(inv *models.Invitation) error {
		if inv.ToData.PlayerID != playerID {
			return &models.AuthorizationError{PlayerID: playerID, Resource: "invitation " + id}
		}
		if inv.Status != models.InvitationPending {
			return models.ErrConflict
		}
		inv.Status = models.InvitationDeclined
		return nil
	})
}

// SetSessionID records the session created for an accepted invitation so
// the inviter's subscription learns where to go next.
func (r *InvitationRepository) SetSessionID(ctx context.Context, id, sessionID string) error {
	return updateDoc(ctx, r.Store, invitationsCollection, id, func(inv *models.Invitation) error {
		inv.SessionID = sessionID
		return nil
	})
}

// Watch streams invitation document changes until deletion or ctx cancel.
func (r *InvitationRepository) Watch(ctx context.Context, id string) (<-chan []byte, error) {
	ch, err := r.Store.Watch(ctx, invitationsCollection, id)
	return ch, mapStoreErr(err)
}

// FindExpired returns invitations whose expiry elapsed before now.
func (r *InvitationRepository) FindExpired(ctx context.Context, now time.Time) ([]models.Invitation, error) {
	var invs []models.Invitation
	err := r.Store.Query(ctx, invitationsCollection, []store.Filter{
		store.Lt("expires_at", now.UTC()),
	}, &invs)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return invs, nil
}

// MarkExpired flips a stale invitation to expired so a subscribed invitee
// observes the timeout before the reaper deletes it.
func (r *InvitationRepository) MarkExpired(ctx context.Context, id string) error {
	return updateDoc(ctx, r.Store, invitationsCollection, id, func(inv *models.Invitation) error {
		if inv.Status == models.InvitationPending {
			inv.Status = models.InvitationExpired
		}
		return nil
	})
}
