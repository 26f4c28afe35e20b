// Package policy implements the declarative authorization engine. Evaluate
// is a pure function over the principal, operation, path and the old/new
// document snapshots: no I/O, no clock, no ambient state. Absence of an
// explicit allow is a deny.
package policy

import (
	"github.com/lyceum-app/lyceum/internal/core"
)

// Operation is the set of actions the engine decides on.
type Operation int

const (
	OpCreate Operation = iota
	OpRead
	OpUpdate
	OpDelete
	OpList
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpRead:
		return "read"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpList:
		return "list"
	}
	return "unknown"
}

// Mutating reports whether the operation changes state.
func (op Operation) Mutating() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// DenyReason identifies why a request was rejected. Reasons are specific by
// design: callers must be able to tell "not permitted" from "no rule in
// effect" from "request malformed".
type DenyReason string

const (
	DenyRoleNotPermitted     DenyReason = "role_not_permitted"
	DenyMissingRelation      DenyReason = "missing_relational_proof"
	DenyNotOwner             DenyReason = "not_owner"
	DenyAlreadyExists        DenyReason = "already_exists"
	DenyNoRule               DenyReason = "no_rule_in_effect"
	DenyAppendOnly           DenyReason = "append_only_collection"
	DenyImmutableField       DenyReason = "immutable_field_violation"
	DenySchemaViolation      DenyReason = "schema_violation"
	DenyMalformedRequest     DenyReason = "malformed_request"
	DenyUnauthenticated      DenyReason = "unauthenticated"
	DenyTargetMissing        DenyReason = "target_missing"
)

// Decision is the engine's verdict. A deny is an expected outcome, not an
// error; Err converts it to the typed error taxonomy for callers that
// propagate failures.
type Decision struct {
	Allowed     bool
	Reason      DenyReason
	Detail      string
	FieldErrors []core.FieldError
	// ImmutableField names the protected field that collapsed an otherwise
	// allowed write, when Reason is DenyImmutableField.
	ImmutableField string
}

// Allow is the single affirmative decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a rejection with a reason and optional detail.
func Deny(reason DenyReason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Err maps a denial onto the error taxonomy. Allowed decisions map to nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case DenyMalformedRequest:
		return core.ErrMalformedRequest
	case DenyImmutableField:
		return &core.ImmutableFieldError{Field: d.ImmutableField}
	case DenySchemaViolation:
		return &core.ValidationError{Fields: d.FieldErrors}
	default:
		return &core.AuthorizationError{Reason: string(d.Reason), Detail: d.Detail}
	}
}
