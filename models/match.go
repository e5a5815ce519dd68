package models

import (
	"encoding/json"
	"time"
)

type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
	MatchAbandoned MatchStatus = "abandoned"
)

// End reasons recorded when a match leaves the active state.
const (
	EndReasonCompleted         = "completed"
	EndReasonOpponentAbandoned = "opponent_abandoned"
	EndReasonCancelled         = "cancelled"
)

// Match is the authoritative, durable record of a game between exactly two
// players. Created once by promotion, mutated only while active, retained
// for history after it reaches a terminal status.
type Match struct {
	ID string `json:"id"`

	// OriginalSessionID back-references the waiting room this match was
	// promoted from. Promotion is keyed on it to stay idempotent.
	OriginalSessionID string `json:"original_session_id"`

	GameMode    string      `json:"game_mode"`
	SessionType SessionType `json:"session_type"`
	Status      MatchStatus `json:"status"`

	HostData     MatchPlayer `json:"host_data"`
	OpponentData MatchPlayer `json:"opponent_data"`

	// AuthorizedPlayers is computed once at promotion and never changes.
	// Every read/act authorization check goes through it.
	AuthorizedPlayers []string `json:"authorized_players"`

	// Heartbeats maps player id → last-seen timestamp, written periodically
	// by each connected client, read by its opponent.
	Heartbeats map[string]time.Time `json:"heartbeats"`

	WinnerID  string `json:"winner_id,omitempty"`
	EndReason string `json:"end_reason,omitempty"`

	GameData map[string]json.RawMessage `json:"game_data,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsAuthorized reports whether playerID is one of the two match players.
func (m *Match) IsAuthorized(playerID string) bool {
	for _, id := range m.AuthorizedPlayers {
		if id == playerID {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the match can no longer be mutated.
func (m *Match) IsTerminal() bool {
	return m.Status == MatchCompleted || m.Status == MatchAbandoned
}

// OpponentID returns the other player's id, or "" if playerID is not part
// of the match.
func (m *Match) OpponentID(playerID string) string {
	if m.HostData.PlayerID == playerID {
		return m.OpponentData.PlayerID
	}
	if m.OpponentData.PlayerID == playerID {
		return m.HostData.PlayerID
	}
	return ""
}

// HeartbeatAge returns how long ago playerID was last seen. Players that
// never wrote a heartbeat are treated as last seen at match start.
func (m *Match) HeartbeatAge(playerID string, now time.Time) time.Duration {
	last, ok := m.Heartbeats[playerID]
	if !ok || last.IsZero() {
		last = m.StartedAt
	}
	return now.Sub(last)
}
