// Package schema declares the per-collection document schemas and the
// validator that enforces them: required fields on create, type checks on
// every present field, and immutability of protected fields on update.
package schema

import (
	"github.com/lyceum-app/lyceum/internal/core"
)

// FieldKind is the coarse value type a field must decode to.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindMap
	KindList
	KindStringList
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindStringList:
		return "string list"
	}
	return "unknown"
}

// FieldSpec describes one field of a collection schema. Format, when set,
// is a go-playground/validator tag applied to string values (e.g. "email",
// "datetime=2006-01-02").
type FieldSpec struct {
	Kind      FieldKind
	Required  bool
	Immutable bool
	Format    string
}

// Schema is the field layout of one collection. Fields absent from the map
// are tolerated on write: early versions rejected writes lacking fields the
// UI never populated, so unknown fields pass through untyped while the
// declared ones stay strictly checked.
type Schema struct {
	Collection core.Collection
	Fields     map[string]FieldSpec
}

var schemas = map[core.Collection]Schema{
	core.CollectionUsers: {
		Collection: core.CollectionUsers,
		Fields: map[string]FieldSpec{
			"role":        {Kind: KindString, Required: true, Immutable: true},
			"displayName": {Kind: KindString, Required: true},
			"email":       {Kind: KindString, Format: "email"},
			"photoURL":    {Kind: KindString, Format: "url"},
			"createdAt":   {Kind: KindTime, Immutable: true},
			"createdBy":   {Kind: KindString, Immutable: true},
		},
	},
	core.CollectionStudents: {
		Collection: core.CollectionStudents,
		Fields: map[string]FieldSpec{
			"fullName":    {Kind: KindString, Required: true},
			"classID":     {Kind: KindString, Required: true},
			"birthDate":   {Kind: KindString, Format: "datetime=2006-01-02"},
			"guardianIDs": {Kind: KindStringList},
			"createdAt":   {Kind: KindTime, Immutable: true},
			"createdBy":   {Kind: KindString, Immutable: true},
		},
	},
	core.CollectionClasses: {
		Collection: core.CollectionClasses,
		Fields: map[string]FieldSpec{
			"name":       {Kind: KindString, Required: true},
			"teacherID":  {Kind: KindString, Required: true},
			"room":       {Kind: KindString},
			"subject":    {Kind: KindString},
			"studentIDs": {Kind: KindStringList},
			"createdAt":  {Kind: KindTime, Immutable: true},
			"createdBy":  {Kind: KindString, Immutable: true},
		},
	},
	core.CollectionAttendance: {
		Collection: core.CollectionAttendance,
		Fields: map[string]FieldSpec{
			"entries":   {Kind: KindMap, Required: true},
			"note":      {Kind: KindString},
			"createdAt": {Kind: KindTime, Immutable: true},
			"createdBy": {Kind: KindString, Immutable: true},
		},
	},
	core.CollectionGrades: {
		Collection: core.CollectionGrades,
		Fields: map[string]FieldSpec{
			"scores":    {Kind: KindMap, Required: true},
			"comment":   {Kind: KindString},
			"createdAt": {Kind: KindTime, Immutable: true},
			"createdBy": {Kind: KindString, Immutable: true},
		},
	},
	core.CollectionAnnouncements: {
		Collection: core.CollectionAnnouncements,
		Fields: map[string]FieldSpec{
			"title":     {Kind: KindString, Required: true},
			"body":      {Kind: KindString, Required: true},
			"authorID":  {Kind: KindString, Required: true, Immutable: true},
			"audience":  {Kind: KindStringList},
			"createdAt": {Kind: KindTime, Immutable: true},
			"createdBy": {Kind: KindString, Immutable: true},
		},
	},
	core.CollectionAuditLogs: {
		Collection: core.CollectionAuditLogs,
		Fields: map[string]FieldSpec{
			"at":            {Kind: KindTime, Required: true, Immutable: true},
			"principalID":   {Kind: KindString, Required: true, Immutable: true},
			"operation":     {Kind: KindString, Required: true, Immutable: true},
			"resourcePath":  {Kind: KindString, Required: true, Immutable: true},
			"status":        {Kind: KindString, Required: true, Immutable: true},
			"before":        {Kind: KindMap, Immutable: true},
			"after":         {Kind: KindMap, Immutable: true},
			"failureReason": {Kind: KindString, Immutable: true},
		},
	},
}

// For returns the schema of the collection.
func For(c core.Collection) (Schema, bool) {
	s, ok := schemas[c]
	return s, ok
}
