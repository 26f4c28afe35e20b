// Package principal models the authenticated actor: a role plus the
// relational links (children owned, classes taught) that policy predicates
// check. A Principal is built once at session establishment and treated as
// immutable for the session; link changes take effect on re-resolution.
package principal

// Role is the closed set of actor roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return true
	}
	return false
}

// Principal is an authenticated actor and its derived relational links.
type Principal struct {
	ID             string
	Role           Role
	OwnedChildIDs  map[string]struct{}
	TaughtClassIDs map[string]struct{}
}

// OwnsChild reports whether the student id is one of the principal's
// children.
func (p Principal) OwnsChild(studentID string) bool {
	_, ok := p.OwnedChildIDs[studentID]
	return ok
}

// OwnsAnyOf reports whether any id in the set is one of the principal's
// children.
func (p Principal) OwnsAnyOf(studentIDs map[string]struct{}) bool {
	for id := range studentIDs {
		if p.OwnsChild(id) {
			return true
		}
	}
	return false
}

// Teaches reports whether the class id is taught by the principal.
func (p Principal) Teaches(classID string) bool {
	_, ok := p.TaughtClassIDs[classID]
	return ok
}

// Authenticated reports whether the principal carries an identity at all.
func (p Principal) Authenticated() bool {
	return p.ID != "" && p.Role.Valid()
}
