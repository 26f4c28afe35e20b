// Package cache provides the local read-through/write-through cache sitting
// in front of the remote store. The cache is never the source of truth: it
// is populated on read miss, updated optimistically on write, and rolled
// back when the remote store rejects a write.
package cache

import (
	"context"
	"time"

	"github.com/lyceum-app/lyceum/internal/core"
)

// Cache is the layer contract. Implementations must support concurrent
// readers with atomic put/invalidate so a reader never observes a
// half-written entry.
type Cache interface {
	// Get returns the cached document for the path, or ok=false on a miss
	// or expired entry.
	Get(ctx context.Context, path core.Path) (doc *core.Document, ok bool, err error)
	// Put stores the document under the path with the given TTL. A zero
	// ttl uses the implementation default.
	Put(ctx context.Context, path core.Path, doc *core.Document, ttl time.Duration) error
	// Invalidate removes the entry for the path, if any.
	Invalidate(ctx context.Context, path core.Path) error
}
