package policy

import (
	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/principal"
)

// Request carries everything a predicate may consult. Old is the stored
// document (never nil for reads that reached a predicate, but possibly a
// non-existing snapshot); New is the incoming payload on create/update.
type Request struct {
	Principal principal.Principal
	Op        Operation
	Path      core.Path
	Old       *core.Document
	New       *core.Document
}

// Predicate decides one operation on one collection. A nil predicate in a
// CollectionPolicy means nobody below Admin is permitted.
type Predicate func(Request) Decision

// CollectionPolicy is the strongly typed rule set of a single collection.
// NoAdminBypass lists operations where Admin gets no shortcut and the
// predicate (or its absence) decides for every role.
type CollectionPolicy struct {
	Create Predicate
	Read   Predicate
	Update Predicate
	Delete Predicate
	List   Predicate

	NoAdminBypass map[Operation]bool
}

func (cp CollectionPolicy) predicate(op Operation) Predicate {
	switch op {
	case OpCreate:
		return cp.Create
	case OpRead:
		return cp.Read
	case OpUpdate:
		return cp.Update
	case OpDelete:
		return cp.Delete
	case OpList:
		return cp.List
	}
	return nil
}

// defaultRules builds the rule table for the closed collection set.
func defaultRules() map[core.Collection]CollectionPolicy {
	return map[core.Collection]CollectionPolicy{
		core.CollectionUsers: {
			// Self-creation: a principal may create its own profile once.
			// The role written must match the authenticated role, so a
			// profile write can never grant more than the identity
			// provider attested. The existence guard lives in the engine.
			Create: func(r Request) Decision {
				if r.Path.DocID != r.Principal.ID {
					return Deny(DenyNotOwner, "profiles are created under the owner id")
				}
				if role, _ := r.New.StringField("role"); role != string(r.Principal.Role) {
					return Deny(DenyRoleNotPermitted, "profile role must match the authenticated role")
				}
				return Allow()
			},
			Read:   ownerOnly,
			Update: ownerOnly,
			// Delete and List stay admin-only.
		},

		core.CollectionStudents: {
			Read: func(r Request) Decision {
				switch r.Principal.Role {
				case principal.RoleStudent:
					if r.Path.DocID == r.Principal.ID {
						return Allow()
					}
					return Deny(DenyNotOwner, "students may read their own record only")
				case principal.RoleParent:
					if r.Principal.OwnsChild(r.Path.DocID) {
						return Allow()
					}
					return Deny(DenyMissingRelation, "student is not a linked child")
				case principal.RoleTeacher:
					if !docExists(r.Old) {
						return Deny(DenyTargetMissing, "")
					}
					if classID, _ := r.Old.StringField("classID"); r.Principal.Teaches(classID) {
						return Allow()
					}
					return Deny(DenyMissingRelation, "student is not in a taught class")
				}
				return Deny(DenyRoleNotPermitted, "")
			},
			List: func(r Request) Decision {
				// Parents and teachers list through relationally scoped
				// queries; students have no roster view.
				switch r.Principal.Role {
				case principal.RoleParent, principal.RoleTeacher:
					return Allow()
				}
				return Deny(DenyRoleNotPermitted, "")
			},
		},

		core.CollectionClasses: {
			Read: func(r Request) Decision {
				if r.Principal.Role == principal.RoleTeacher && r.Principal.Teaches(r.Path.DocID) {
					return Allow()
				}
				if !docExists(r.Old) {
					return Deny(DenyTargetMissing, "")
				}
				switch r.Principal.Role {
				case principal.RoleTeacher:
					if teacherID, _ := r.Old.StringField("teacherID"); teacherID == r.Principal.ID {
						return Allow()
					}
					return Deny(DenyMissingRelation, "class is taught by someone else")
				case principal.RoleStudent:
					if _, ok := r.Old.StringSetField("studentIDs")[r.Principal.ID]; ok {
						return Allow()
					}
					return Deny(DenyMissingRelation, "not enrolled in this class")
				case principal.RoleParent:
					if r.Principal.OwnsAnyOf(r.Old.StringSetField("studentIDs")) {
						return Allow()
					}
					return Deny(DenyMissingRelation, "no linked child enrolled in this class")
				}
				return Deny(DenyRoleNotPermitted, "")
			},
			Update: func(r Request) Decision {
				if r.Principal.Role != principal.RoleTeacher {
					return Deny(DenyRoleNotPermitted, "")
				}
				if !docExists(r.Old) {
					return Deny(DenyTargetMissing, "")
				}
				if teacherID, _ := r.Old.StringField("teacherID"); teacherID == r.Principal.ID {
					return Allow()
				}
				return Deny(DenyMissingRelation, "class is taught by someone else")
			},
			List: anyAuthenticated,
		},

		core.CollectionAttendance: classScopedSheet("entries"),
		core.CollectionGrades:     classScopedSheet("scores"),

		core.CollectionAnnouncements: {
			Create: func(r Request) Decision {
				if r.Principal.Role != principal.RoleTeacher {
					return Deny(DenyRoleNotPermitted, "")
				}
				if authorID, _ := r.New.StringField("authorID"); authorID != r.Principal.ID {
					return Deny(DenyNotOwner, "authorID must be the creating principal")
				}
				return Allow()
			},
			Read:   anyAuthenticated,
			Update: announcementAuthor,
			Delete: announcementAuthor,
			List:   anyAuthenticated,
		},

		core.CollectionAuditLogs: {
			// Entries are appended by the audit recorder out of band; the
			// public write path is closed for every role, Admin included.
			Create: func(Request) Decision {
				return Deny(DenyAppendOnly, "audit entries are written by the recorder only")
			},
			Update: func(Request) Decision {
				return Deny(DenyAppendOnly, "audit entries are immutable")
			},
			Delete: func(Request) Decision {
				return Deny(DenyAppendOnly, "audit entries are immutable")
			},
			// Read and List stay admin-only via the default bypass.
			NoAdminBypass: map[Operation]bool{
				OpCreate: true,
				OpUpdate: true,
				OpDelete: true,
			},
		},
	}
}

// classScopedSheet covers attendance and grades: per-class documents whose
// roster field is a map keyed by student id. The class id is the parent
// path segment.
func classScopedSheet(rosterField string) CollectionPolicy {
	teacherOfClass := func(r Request) Decision {
		if r.Principal.Role != principal.RoleTeacher {
			return Deny(DenyRoleNotPermitted, "")
		}
		if r.Principal.Teaches(r.Path.DocID) {
			return Allow()
		}
		return Deny(DenyMissingRelation, "class is not taught by this principal")
	}
	return CollectionPolicy{
		Create: teacherOfClass,
		Update: teacherOfClass,
		Read: func(r Request) Decision {
			switch r.Principal.Role {
			case principal.RoleTeacher:
				return teacherOfClass(r)
			case principal.RoleStudent:
				if !docExists(r.Old) {
					return Deny(DenyTargetMissing, "")
				}
				if _, ok := r.Old.StringSetField(rosterField)[r.Principal.ID]; ok {
					return Allow()
				}
				return Deny(DenyMissingRelation, "no entry for this student")
			case principal.RoleParent:
				if !docExists(r.Old) {
					return Deny(DenyTargetMissing, "")
				}
				if r.Principal.OwnsAnyOf(r.Old.StringSetField(rosterField)) {
					return Allow()
				}
				return Deny(DenyMissingRelation, "no entry for a linked child")
			}
			return Deny(DenyRoleNotPermitted, "")
		},
		List: func(r Request) Decision {
			if r.Principal.Role == principal.RoleTeacher {
				return Allow()
			}
			return Deny(DenyRoleNotPermitted, "")
		},
		// Delete stays admin-only.
	}
}

func announcementAuthor(r Request) Decision {
	if !docExists(r.Old) {
		return Deny(DenyTargetMissing, "")
	}
	if authorID, _ := r.Old.StringField("authorID"); authorID == r.Principal.ID {
		return Allow()
	}
	return Deny(DenyNotOwner, "only the author may modify an announcement")
}

func ownerOnly(r Request) Decision {
	if r.Path.DocID == r.Principal.ID {
		return Allow()
	}
	return Deny(DenyNotOwner, "")
}

func anyAuthenticated(Request) Decision {
	return Allow()
}

func docExists(doc *core.Document) bool {
	return doc != nil && doc.Exists
}
