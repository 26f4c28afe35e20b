// Package identity resolves authenticated users into principals and owns
// the session surface: credential checks, cookie sessions in Redis, and the
// middleware-facing resolver the store guard re-checks against.
package identity

import (
	"context"
	"fmt"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/principal"
	"github.com/lyceum-app/lyceum/internal/store"
)

// Resolver derives a Principal from the document store: the role from the
// user profile, children from student guardian links, taught classes from
// class ownership. It reads the raw store, not the guarded one, since
// resolution happens before any policy decision exists.
type Resolver struct {
	store store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve implements store.PrincipalResolver. A missing or roleless profile
// resolves to a denial, never to a zero principal.
func (r *Resolver) Resolve(ctx context.Context, principalID string) (principal.Principal, error) {
	profile, err := r.store.Get(ctx, core.Path{Collection: core.CollectionUsers, DocID: principalID})
	if err != nil {
		return principal.Principal{}, err
	}
	if !profile.Exists {
		return principal.Principal{}, &core.AuthorizationError{Reason: "unknown principal", Detail: principalID}
	}
	role, _ := profile.StringField("role")
	p := principal.Principal{ID: principalID, Role: principal.Role(role)}
	if !p.Role.Valid() {
		return principal.Principal{}, &core.AuthorizationError{Reason: "invalid role", Detail: fmt.Sprintf("%s has role %q", principalID, role)}
	}

	switch p.Role {
	case principal.RoleParent:
		children, err := r.store.Query(ctx, store.Query{
			Collection: core.CollectionStudents,
			Filters:    []store.Filter{{Field: "guardianIDs", Op: store.FilterContains, Value: principalID}},
		})
		if err != nil {
			return principal.Principal{}, err
		}
		p.OwnedChildIDs = make(map[string]struct{}, len(children))
		for _, doc := range children {
			p.OwnedChildIDs[doc.Path.DocID] = struct{}{}
		}
	case principal.RoleTeacher:
		classes, err := r.store.Query(ctx, store.Query{
			Collection: core.CollectionClasses,
			Filters:    []store.Filter{{Field: "teacherID", Op: store.FilterEq, Value: principalID}},
		})
		if err != nil {
			return principal.Principal{}, err
		}
		p.TaughtClassIDs = make(map[string]struct{}, len(classes))
		for _, doc := range classes {
			p.TaughtClassIDs[doc.Path.DocID] = struct{}{}
		}
	}
	return p, nil
}
