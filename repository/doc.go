// Package repository wraps the document store with the typed queries and
// atomic operations the matchmaking core needs. All correctness-critical
// mutations (join, status transitions, victory claims) go through store
// transactions; nothing here relies on in-memory locks.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dice-match-system/models"
	"dice-match-system/store"
)

// Collections used by the matchmaking core.
const (
	sessionsCollection    = "sessions"
	matchesCollection     = "matches"
	invitationsCollection = "invitations"
)

// updateDoc runs apply on the decoded document inside one store
// transaction. Errors returned by apply abort the transaction and reach the
// caller unchanged.
func updateDoc[T any](ctx context.Context, st store.Store, collection, id string, apply func(*T) error) error {
	err := st.Update(ctx, collection, id, func(raw []byte) ([]byte, error) {
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if err := apply(&doc); err != nil {
			return nil, err
		}
		return json.Marshal(&doc)
	})
	return mapStoreErr(err)
}

// mapStoreErr translates store sentinels into the core error taxonomy.
// Errors that are already taxonomy values pass through untouched.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return models.ErrNotFound
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	default:
		return err
	}
}
