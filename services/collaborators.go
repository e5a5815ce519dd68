package services

import (
	"context"

	"dice-match-system/models"
)

// External collaborators consumed by the matchmaking core. Implementations
// live behind these interfaces so tests inject fakes and deployments pick
// their own services.

// SocialGraph answers friendship queries. Used by ranked eligibility
// (friends may not play ranked against each other) and friend invites
// (which require a mutual connection).
type SocialGraph interface {
	AreConnected(ctx context.Context, playerA, playerB string) (bool, error)
}

// ProfileProvider produces the point-in-time player snapshot written into
// sessions at creation.
type ProfileProvider interface {
	GetPlayerSnapshot(ctx context.Context, playerID string) (models.PlayerSnapshot, error)
}

// RankingService is the pluggable scoring collaborator. The core only
// invokes it at match completion and checks whether a ranking period is
// open; the formula is its business.
type RankingService interface {
	HasActivePeriod(ctx context.Context) (bool, error)
	RecordResult(ctx context.Context, match *models.Match) error
}

// TournamentRegistry validates that a player holds an active registration
// for a tournament. Actual bracket pairing happens in an external
// scheduler, not here.
type TournamentRegistry interface {
	IsRegistered(ctx context.Context, tournamentID, playerID string) (bool, error)
}
