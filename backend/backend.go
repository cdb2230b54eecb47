// Package backend is the boundary to the persistent document store.
//
// Records travel as BSON so every implementation shares the codec the
// MongoDB driver uses. Writes that depend on the current document state go
// through Apply, which pairs a guard filter with increment and set-union
// operators the store executes atomically per document.
package backend

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Collections used by the service.
const (
	Issues        = "issues"
	Users         = "users"
	Notifications = "notifications"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable wraps any failure reaching the store.
	ErrUnavailable = errors.New("backend unavailable")
)

// Fields is a set of top-level field assignments.
type Fields map[string]any

// Op is a comparison operator understood by every backend.
type Op string

const (
	OpEq Op = "$eq"
	OpNe Op = "$ne"
)

// Cond compares one field. Against an array field OpEq means "contains"
// and OpNe means "does not contain", matching MongoDB semantics.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. An empty filter matches all.
type Filter []Cond

func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }
func Ne(field string, value any) Cond { return Cond{Field: field, Op: OpNe, Value: value} }

// Mutation describes an in-place update of a single document.
type Mutation struct {
	Set      Fields
	Inc      map[string]int
	AddToSet Fields
}

// Backend is the document store contract the issue store and the
// reputation ledger depend on.
type Backend interface {
	// Create inserts doc and returns the id the store assigned to it.
	Create(ctx context.Context, collection string, doc any) (string, error)
	// Get returns the raw document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (bson.Raw, error)
	// Update overwrites the given fields or returns ErrNotFound.
	Update(ctx context.Context, collection, id string, set Fields) error
	// Apply runs m against the document only if it also matches guard.
	// It reports whether a document matched.
	Apply(ctx context.Context, collection, id string, guard Filter, m Mutation) (bool, error)
	// Count returns the number of documents matching f.
	Count(ctx context.Context, collection string, f Filter) (int64, error)
	// Query returns every document matching f.
	Query(ctx context.Context, collection string, f Filter) ([]bson.Raw, error)
}

// Decode unmarshals a raw document into out.
func Decode(raw bson.Raw, out any) error {
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
