package models

import (
	"encoding/json"
	"time"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is the pending friend-invite record. It is distinct from a
// Session: no waiting room exists until the invitee explicitly accepts.
// Decline or expiry deletes the invitation without ever creating a session.
type Invitation struct {
	ID       string           `json:"id"`
	GameMode string           `json:"game_mode"`
	Status   InvitationStatus `json:"status"`

	FromData PlayerSnapshot `json:"from_data"`
	ToData   PlayerSnapshot `json:"to_data"`

	// SessionID is set once the invite is accepted and its session exists,
	// so the inviter's subscription learns where to go next.
	SessionID string `json:"session_id,omitempty"`

	// GameData is the inviter's mode-specific settings, handed to the
	// session once the invite is accepted.
	GameData map[string]json.RawMessage `json:"game_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the invitation's short expiry has elapsed.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// RematchOutcome is what the rematch requester is told once the target
// responds (or fails to respond in time).
type RematchOutcome string

const (
	RematchAccepted RematchOutcome = "accepted"
	RematchDeclined RematchOutcome = "declined"
	RematchTimeout  RematchOutcome = "timeout"
)
