package store

import (
	"context"
	"fmt"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/principal"
)

// PrincipalResolver re-resolves a principal id to a fresh Principal. The
// guard resolves at evaluation time rather than trusting the caller's
// session snapshot, so role downgrades and link changes take effect on the
// very next write.
type PrincipalResolver interface {
	Resolve(ctx context.Context, principalID string) (principal.Principal, error)
}

// Guarded decorates a Store with an independent policy re-evaluation. The
// client-side pre-check is advisory; this guard is the authoritative
// decision, which is why its rejections surface as core.ErrConflict: the
// write was locally allowed yet remotely refused.
type Guarded struct {
	inner    Store
	engine   *policy.Engine
	resolver PrincipalResolver
}

// NewGuarded wraps inner with policy enforcement.
func NewGuarded(inner Store, engine *policy.Engine, resolver PrincipalResolver) *Guarded {
	return &Guarded{inner: inner, engine: engine, resolver: resolver}
}

// Get implements Store, re-checking read authorization against the stored
// document.
func (g *Guarded) Get(ctx context.Context, path core.Path) (*core.Document, error) {
	doc, err := g.inner.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	p, err := g.freshPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if d := g.engine.Evaluate(p, policy.OpRead, path, doc, nil); !d.Allowed {
		return nil, d.Err()
	}
	return doc, nil
}

// Put implements Store. The operation kind is derived from the stored
// state: a put over a missing document is a create, otherwise an update.
// Updates are partial: fields absent from the payload keep their stored
// value, so omitting an immutable field can never erase it and re-set it
// to something new later.
func (g *Guarded) Put(ctx context.Context, path core.Path, fields map[string]any) (*core.Document, error) {
	old, err := g.inner.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	op := policy.OpUpdate
	effective := fields
	if old.Exists {
		effective = core.MergedFields(old, fields)
	} else {
		op = policy.OpCreate
	}
	p, err := g.freshPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	newDoc := core.NewDocument(path, effective)
	if d := g.engine.Evaluate(p, op, path, old, newDoc); !d.Allowed {
		return nil, &core.ConflictError{RemoteReason: fmt.Sprintf("%s: %s", d.Reason, d.Detail)}
	}
	return g.inner.Put(ctx, path, effective)
}

// Delete implements Store.
func (g *Guarded) Delete(ctx context.Context, path core.Path) error {
	old, err := g.inner.Get(ctx, path)
	if err != nil {
		return err
	}
	if !old.Exists {
		return core.ErrNotFound
	}
	p, err := g.freshPrincipal(ctx)
	if err != nil {
		return err
	}
	if d := g.engine.Evaluate(p, policy.OpDelete, path, old, nil); !d.Allowed {
		return &core.ConflictError{RemoteReason: fmt.Sprintf("%s: %s", d.Reason, d.Detail)}
	}
	return g.inner.Delete(ctx, path)
}

// Query implements Store. The engine's List check gates the query here
// with a freshly resolved principal. Row-level scoping lives in the
// cursor, which needs raw row visibility to advance its keyset position
// past rows the principal may not read.
func (g *Guarded) Query(ctx context.Context, q Query) ([]*core.Document, error) {
	p, err := g.freshPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if d := g.engine.Evaluate(p, policy.OpList, core.Path{Collection: q.Collection}, nil, nil); !d.Allowed {
		return nil, d.Err()
	}
	return g.inner.Query(ctx, q)
}

// Changes implements Store.
func (g *Guarded) Changes(ctx context.Context, collection core.Collection) (<-chan ChangeEvent, func(), error) {
	return g.inner.Changes(ctx, collection)
}

func (g *Guarded) freshPrincipal(ctx context.Context) (principal.Principal, error) {
	id := principal.FromContext(ctx).ID
	if id == "" {
		return principal.Principal{}, &core.AuthorizationError{Reason: "unauthenticated"}
	}
	p, err := g.resolver.Resolve(ctx, id)
	if err != nil {
		return principal.Principal{}, err
	}
	return p, nil
}
