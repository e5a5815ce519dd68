package models

import (
	"encoding/json"
	"time"
)

type SessionType string

const (
	SessionTypeQuick      SessionType = "quick"
	SessionTypeRanked     SessionType = "ranked"
	SessionTypeFriend     SessionType = "friend"
	SessionTypeTournament SessionType = "tournament"
	SessionTypeRematch    SessionType = "rematch"
)

// ValidSessionType reports whether t is one of the supported session types.
func ValidSessionType(t SessionType) bool {
	switch t {
	case SessionTypeQuick, SessionTypeRanked, SessionTypeFriend, SessionTypeTournament, SessionTypeRematch:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionMatched   SessionStatus = "matched"
	SessionCancelled SessionStatus = "cancelled"
	SessionExpired   SessionStatus = "expired"
)

// SessionConstraints pins a session to a fixed set of players. Friend and
// rematch rooms carry them; open quick/ranked rooms do not.
type SessionConstraints struct {
	AllowedPlayerIDs []string `json:"allowed_player_ids"`
}

// Allows reports whether playerID may join. A nil constraint set allows
// everyone.
func (c *SessionConstraints) Allows(playerID string) bool {
	if c == nil || len(c.AllowedPlayerIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedPlayerIDs {
		if id == playerID {
			return true
		}
	}
	return false
}

// Session is the short-lived waiting-room document two players meet in
// before promotion creates a Match. It is the sole point of write contention
// in the core: every status-affecting mutation happens inside a store
// transaction.
type Session struct {
	ID string `json:"id"`

	SessionType SessionType   `json:"session_type"`
	GameMode    string        `json:"game_mode"`
	Status      SessionStatus `json:"status"`

	HostData     PlayerSnapshot  `json:"host_data"`
	OpponentData *PlayerSnapshot `json:"opponent_data,omitempty"`

	// ReadyPlayers is only meaningful for invitation and rematch rooms,
	// where both sides must explicitly ready up before promotion.
	ReadyPlayers []string `json:"ready_players,omitempty"`

	Constraints *SessionConstraints `json:"constraints,omitempty"`

	// GameData carries mode-specific settings chosen by the host. Opaque to
	// the core; promotion copies it onto the match untouched.
	GameData map[string]json.RawMessage `json:"game_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the session's TTL has elapsed.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// HasPlayer reports whether playerID is the host or the attached opponent.
func (s *Session) HasPlayer(playerID string) bool {
	if s.HostData.PlayerID == playerID {
		return true
	}
	return s.OpponentData != nil && s.OpponentData.PlayerID == playerID
}

// IsReady reports whether playerID has explicitly readied up.
func (s *Session) IsReady(playerID string) bool {
	for _, id := range s.ReadyPlayers {
		if id == playerID {
			return true
		}
	}
	return false
}
