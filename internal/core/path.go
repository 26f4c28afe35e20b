// Package core defines the resource model shared by the policy engine,
// cache, store and synchronization coordinator: typed resource paths,
// documents and the error taxonomy.
package core

import (
	"fmt"
	"strings"
)

// Collection enumerates every document collection the system knows about.
// The set is closed: rules, schemas and stores all switch over these values
// rather than raw collection names.
type Collection int

const (
	CollectionUnknown Collection = iota
	CollectionUsers
	CollectionStudents
	CollectionClasses
	CollectionAttendance
	CollectionGrades
	CollectionAnnouncements
	CollectionAuditLogs
)

var collectionNames = map[Collection]string{
	CollectionUsers:         "users",
	CollectionStudents:      "students",
	CollectionClasses:       "classes",
	CollectionAttendance:    "attendance",
	CollectionGrades:        "grades",
	CollectionAnnouncements: "announcements",
	CollectionAuditLogs:     "audit_logs",
}

var collectionsByName = func() map[string]Collection {
	m := make(map[string]Collection, len(collectionNames))
	for c, name := range collectionNames {
		m[name] = c
	}
	return m
}()

// String returns the wire name of the collection.
func (c Collection) String() string {
	if name, ok := collectionNames[c]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether the collection is part of the closed set.
func (c Collection) Known() bool {
	_, ok := collectionNames[c]
	return ok
}

// Arity returns how many id segments a document path in this collection has.
func (c Collection) Arity() int {
	switch c {
	case CollectionAttendance, CollectionGrades:
		return 2
	default:
		return 1
	}
}

// ParseCollection resolves a wire name to a Collection.
func ParseCollection(name string) (Collection, bool) {
	c, ok := collectionsByName[strings.TrimSpace(name)]
	return c, ok
}

// Collections returns every known collection in a stable order.
func Collections() []Collection {
	return []Collection{
		CollectionUsers,
		CollectionStudents,
		CollectionClasses,
		CollectionAttendance,
		CollectionGrades,
		CollectionAnnouncements,
		CollectionAuditLogs,
	}
}

// Path identifies a collection or a single document within one. Two-level
// collections (attendance, grades) address documents as parent/child, e.g.
// attendance/C1/2026-02-10 where C1 is the class and the child is the date.
type Path struct {
	Collection Collection
	DocID      string
	ChildID    string
}

// ParsePath parses a slash separated resource path. A bare collection name
// yields a collection path (DocID empty), used for List operations.
func ParsePath(raw string) (Path, error) {
	segments := strings.Split(strings.Trim(raw, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return Path{}, fmt.Errorf("%w: empty path", ErrMalformedRequest)
	}
	collection, ok := ParseCollection(segments[0])
	if !ok {
		return Path{}, fmt.Errorf("%w: unknown collection %q", ErrMalformedRequest, segments[0])
	}
	p := Path{Collection: collection}
	switch len(segments) {
	case 1:
		return p, nil
	case 2:
		if collection.Arity() != 1 {
			return Path{}, fmt.Errorf("%w: %s requires %d id segments", ErrMalformedRequest, collection, collection.Arity())
		}
		p.DocID = segments[1]
	case 3:
		if collection.Arity() != 2 {
			return Path{}, fmt.Errorf("%w: %s requires %d id segments", ErrMalformedRequest, collection, collection.Arity())
		}
		p.DocID = segments[1]
		p.ChildID = segments[2]
	default:
		return Path{}, fmt.Errorf("%w: too many segments in %q", ErrMalformedRequest, raw)
	}
	if p.DocID == "" || (collection.Arity() == 2 && p.ChildID == "") {
		return Path{}, fmt.Errorf("%w: empty id segment in %q", ErrMalformedRequest, raw)
	}
	return p, nil
}

// MustPath parses a path and panics on failure. Test helper.
func MustPath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the path back to its slash separated form.
func (p Path) String() string {
	parts := []string{p.Collection.String()}
	if p.DocID != "" {
		parts = append(parts, p.DocID)
	}
	if p.ChildID != "" {
		parts = append(parts, p.ChildID)
	}
	return strings.Join(parts, "/")
}

// IsCollection reports whether the path addresses a whole collection rather
// than a single document.
func (p Path) IsCollection() bool {
	return p.DocID == ""
}

// Valid reports whether the path addresses a well-formed document for its
// collection's arity.
func (p Path) Valid() bool {
	if !p.Collection.Known() || p.DocID == "" {
		return false
	}
	if p.Collection.Arity() == 2 {
		return p.ChildID != ""
	}
	return p.ChildID == ""
}
