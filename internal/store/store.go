// Package store defines the remote authoritative document store contract
// and its implementations: an in-memory store for tests and offline
// development, a Postgres store for deployment, and a guard decorator that
// re-runs policy evaluation server-side so the client pre-check is never
// trusted as sufficient.
package store

import (
	"context"
	"time"

	"github.com/lyceum-app/lyceum/internal/core"
)

// FilterOp is the comparison applied by a query filter.
type FilterOp int

const (
	// FilterEq matches documents whose field equals the value.
	FilterEq FilterOp = iota
	// FilterContains matches documents whose list or map field contains
	// the value (list element or map key).
	FilterContains
)

// Filter narrows a query to documents matching a field predicate.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Order declares the sort key of a query. An empty Field means the store's
// natural path order, which is stable but carries no domain meaning.
type Order struct {
	Field string
	Desc  bool
}

// Query describes a collection traversal. AfterKey and Offset position the
// page: AfterKey is the exclusive sort-key start used by cursor pagination;
// Offset is the numeric fallback for collections without a stable sort key.
type Query struct {
	Collection core.Collection
	Filters    []Filter
	Order      Order
	Limit      int
	AfterKey   any
	Offset     int
}

// ChangeType distinguishes change feed events.
type ChangeType int

const (
	ChangePut ChangeType = iota
	ChangeDelete
)

// ChangeEvent is one document change emitted on a collection subscription.
// Doc is the post-change snapshot, nil for deletes. Delivery is
// at-least-once; events carry full snapshots so re-applying one is a no-op.
type ChangeEvent struct {
	Type ChangeType
	Path core.Path
	Doc  *core.Document
	At   time.Time
}

// Store is the remote document store contract.
type Store interface {
	// Get fetches the document at path. A missing document returns a
	// snapshot with Exists=false and a nil error; errors are reserved for
	// transport and decoding failures.
	Get(ctx context.Context, path core.Path) (*core.Document, error)
	// Put writes the full document at path, creating or replacing it.
	Put(ctx context.Context, path core.Path, fields map[string]any) (*core.Document, error)
	// Delete removes the document at path. Deleting a missing document
	// returns core.ErrNotFound.
	Delete(ctx context.Context, path core.Path) error
	// Query returns documents matching q, in q.Order, up to q.Limit.
	Query(ctx context.Context, q Query) ([]*core.Document, error)
	// Changes subscribes to the collection's change feed. The returned
	// cancel function releases the subscription; the channel closes after
	// cancellation or context end.
	Changes(ctx context.Context, collection core.Collection) (<-chan ChangeEvent, func(), error)
}
