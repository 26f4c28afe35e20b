package policy

import (
	"errors"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/principal"
	"github.com/lyceum-app/lyceum/internal/schema"
)

// Engine evaluates operations against the rule table. It is stateless and
// safe for concurrent use; identical inputs always yield identical
// decisions.
type Engine struct {
	rules map[core.Collection]CollectionPolicy
}

// NewEngine builds an engine with the default rule table.
func NewEngine() *Engine {
	return &Engine{rules: defaultRules()}
}

// NewEngineWithRules builds an engine over an explicit rule table. Used by
// tests that exercise deny-by-default against collections without rules.
func NewEngineWithRules(rules map[core.Collection]CollectionPolicy) *Engine {
	return &Engine{rules: rules}
}

// Evaluate decides whether the principal may perform op on the document at
// path. oldDoc is the stored snapshot (or a non-existing snapshot, or nil
// when unknown); newDoc is the incoming payload for create/update.
//
// Resolution order: request well-formedness, admin bypass (unless the
// collection declares an exception), the collection predicate, then the
// field-level schema check which can collapse an allowed write back to a
// deny. Malformed requests never panic or error; they deny.
func (e *Engine) Evaluate(p principal.Principal, op Operation, path core.Path, oldDoc, newDoc *core.Document) Decision {
	if d, ok := e.checkShape(op, path, newDoc); !ok {
		return d
	}
	if !p.Authenticated() {
		return Deny(DenyUnauthenticated, "")
	}

	// Existence guard: creating over an existing document is rejected for
	// every role. This is what prevents privilege self-escalation by
	// overwriting an existing profile.
	if op == OpCreate && docExists(oldDoc) {
		return Deny(DenyAlreadyExists, "document already exists")
	}

	rule, haveRule := e.rules[path.Collection]
	req := Request{Principal: p, Op: op, Path: path, Old: oldDoc, New: newDoc}

	var decision Decision
	switch {
	case !haveRule:
		// Deny-by-default: a collection without rules is closed to every
		// non-admin role.
		if p.Role != principal.RoleAdmin {
			return Deny(DenyNoRule, "no rule defined for collection")
		}
		decision = Allow()
	case p.Role == principal.RoleAdmin && !rule.NoAdminBypass[op]:
		decision = Allow()
	default:
		pred := rule.predicate(op)
		if pred == nil {
			return Deny(DenyRoleNotPermitted, "operation not granted to this role")
		}
		decision = pred(req)
	}
	if !decision.Allowed {
		return decision
	}

	// Field-level override: even an allowed write is re-checked against
	// the collection schema; any violation collapses the decision.
	if op == OpCreate || op == OpUpdate {
		if s, ok := schema.For(path.Collection); ok {
			if err := schema.Validate(s, oldDoc, newDoc); err != nil {
				return denyFromValidation(err)
			}
		}
	}
	return Allow()
}

// checkShape rejects requests the engine cannot interpret. Returns the
// decision and false when evaluation must stop.
func (e *Engine) checkShape(op Operation, path core.Path, newDoc *core.Document) (Decision, bool) {
	if !path.Collection.Known() {
		return Deny(DenyMalformedRequest, "unknown collection"), false
	}
	if op == OpList {
		if !path.IsCollection() {
			return Deny(DenyMalformedRequest, "list addresses a collection, not a document"), false
		}
		return Decision{}, true
	}
	if !path.Valid() {
		return Deny(DenyMalformedRequest, "path does not address a document"), false
	}
	if (op == OpCreate || op == OpUpdate) && (newDoc == nil || newDoc.Fields == nil) {
		return Deny(DenyMalformedRequest, "write requires a payload"), false
	}
	return Decision{}, true
}

func denyFromValidation(err error) Decision {
	var ierr *core.ImmutableFieldError
	if errors.As(err, &ierr) {
		d := Deny(DenyImmutableField, ierr.Error())
		d.ImmutableField = ierr.Field
		return d
	}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		d := Deny(DenySchemaViolation, verr.Error())
		d.FieldErrors = verr.Fields
		return d
	}
	return Deny(DenySchemaViolation, err.Error())
}
