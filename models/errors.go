package models

import (
	"errors"
	"fmt"
)

// Error taxonomy for the matchmaking core. Sub-components return these as
// values across the orchestrator boundary so retry/surface decisions are
// made uniformly instead of via exceptions-as-control-flow.
var (
	// ErrConflict means a join race was lost. Retried internally by the
	// search engine, only surfaced once retries exhaust.
	ErrConflict = errors.New("session already claimed by another player")

	// ErrNotFound means a session/match disappeared. Triggers the
	// match-recovery fallback before being surfaced.
	ErrNotFound = errors.New("resource not found")

	// ErrUnavailable means the store or a collaborator was unreachable.
	// Retried with bounded backoff, then surfaced as a "try again" error.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrAlreadyInSession means the requester still owns an open session.
	ErrAlreadyInSession = errors.New("player already has an open session")
)

// ValidationError marks a bad or missing request field. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotEligibleError means the request was well-formed but policy forbids it
// (ranked play between friends, tournament without registration). Never
// retried; the reason is shown to the player.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	return "not eligible: " + e.Reason
}

// AuthorizationError means a player acted on a session/match they are not
// part of. Always fatal, logged as a security-relevant event.
type AuthorizationError struct {
	PlayerID string
	Resource string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("player %s is not authorized on %s", e.PlayerID, e.Resource)
}

// DownstreamError wraps whatever a sub-component raised so the orchestrator
// can surface it as a distinguishable failure without losing the cause.
type DownstreamError struct {
	Op  string
	Err error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *DownstreamError) Unwrap() error {
	return e.Err
}
