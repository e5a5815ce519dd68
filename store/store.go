package store

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors shared by every implementation.
var (
	ErrNotFound    = errors.New("store: document not found")
	ErrExists      = errors.New("store: document already exists")
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	OpContains Op = "contains" // array field contains value
)

// Filter is a single predicate on a top-level JSON field of a document.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter       { return Filter{Field: field, Op: OpEq, Value: value} }
func Gt(field string, value any) Filter       { return Filter{Field: field, Op: OpGt, Value: value} }
func Lt(field string, value any) Filter       { return Filter{Field: field, Op: OpLt, Value: value} }
func Contains(field string, value any) Filter { return Filter{Field: field, Op: OpContains, Value: value} }

// Store is the abstract transactional document store the matchmaking core
// runs on. Documents are JSON payloads addressed by (collection, id). Any
// backend with equivalent transaction semantics satisfies it; this repo
// ships Postgres, Redis and in-memory implementations.
type Store interface {
	// Insert writes a brand-new document. Returns ErrExists if the id is
	// already taken — callers rely on this for create-once semantics.
	Insert(ctx context.Context, collection, id string, doc any) error

	// Get unmarshals the document into out. Returns ErrNotFound if absent.
	Get(ctx context.Context, collection, id string, out any) error

	// Delete removes the document. Returns ErrNotFound if absent.
	Delete(ctx context.Context, collection, id string) error

	// Query unmarshals every document in the collection matching all
	// filters into out (a pointer to a slice). No ordering guarantee.
	Query(ctx context.Context, collection string, filters []Filter, out any) error

	// Update runs apply inside an atomic read-verify-write transaction.
	// apply receives the current payload and returns the replacement; any
	// error it returns aborts the transaction and is passed through to the
	// caller unchanged. Returns ErrNotFound if the document is absent.
	Update(ctx context.Context, collection, id string, apply func(raw []byte) ([]byte, error)) error

	// Watch emits the document payload on every observed change until ctx
	// is cancelled or the document is deleted, after which the channel is
	// closed. The current payload (if any) is emitted first.
	Watch(ctx context.Context, collection, id string) (<-chan []byte, error)

	Close() error
}

// UnmarshalDocs decodes a set of raw document payloads into out, which must
// be a pointer to a slice. Shared by implementations that assemble query
// results client-side.
func UnmarshalDocs(raws []json.RawMessage, out any) error {
	b, err := json.Marshal(raws)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
