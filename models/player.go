package models

import "encoding/json"

// StatsSummary is the slice of a player's profile that matchmaking cares
// about, copied at snapshot time.
type StatsSummary struct {
	GamesPlayed int `json:"games_played"`
	Wins        int `json:"wins"`
	Streak      int `json:"streak"`
}

// PlayerSnapshot is a point-in-time copy of a player's profile taken when
// they enter matchmaking. It is frozen on purpose: matching decisions stay
// stable even if the live profile changes mid-search. Cosmetic payloads are
// opaque to the core and pass through untouched.
type PlayerSnapshot struct {
	PlayerID    string                     `json:"player_id"`
	DisplayName string                     `json:"display_name"`
	Cosmetics   map[string]json.RawMessage `json:"cosmetics,omitempty"`
	Stats       StatsSummary               `json:"stats"`
}

// MatchPlayer extends the frozen snapshot with the mutable in-match fields.
// These are owned exclusively by the match document once it exists; the
// session copies stay historical inputs.
type MatchPlayer struct {
	PlayerSnapshot

	TurnActive bool `json:"turn_active"`
	Score      int  `json:"score"`
}
