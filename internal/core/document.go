package core

import "time"

// Document is a single record in a collection. Fields hold the raw decoded
// values; Exists distinguishes a fetched document from a confirmed miss so
// existence guards never read fields off an absent record.
type Document struct {
	Path      Path
	Fields    map[string]any
	Exists    bool
	UpdatedAt time.Time
}

// NewDocument builds an existing document from a path and field map.
func NewDocument(path Path, fields map[string]any) *Document {
	return &Document{Path: path, Fields: fields, Exists: true}
}

// Field returns the named field value and whether it is present.
func (d *Document) Field(name string) (any, bool) {
	if d == nil || !d.Exists || d.Fields == nil {
		return nil, false
	}
	v, ok := d.Fields[name]
	return v, ok
}

// StringField returns the named field as a string when present and typed so.
func (d *Document) StringField(name string) (string, bool) {
	v, ok := d.Field(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringSetField returns the named field as a set of strings. List values
// are flattened; map values contribute their keys, which covers roster maps
// such as attendance entries keyed by student id.
func (d *Document) StringSetField(name string) map[string]struct{} {
	v, ok := d.Field(name)
	if !ok {
		return nil
	}
	set := make(map[string]struct{})
	switch value := v.(type) {
	case []string:
		for _, s := range value {
			set[s] = struct{}{}
		}
	case []any:
		for _, item := range value {
			if s, ok := item.(string); ok {
				set[s] = struct{}{}
			}
		}
	case map[string]any:
		for key := range value {
			set[key] = struct{}{}
		}
	default:
		return nil
	}
	return set
}

// MergedFields overlays a partial update payload onto a stored document's
// fields. Fields absent from the payload keep their stored value, which is
// what makes immutability by omission safe: an omitted immutable field is
// carried forward, never erased. A nil or non-existing old document yields
// the payload unchanged.
func MergedFields(old *Document, updates map[string]any) map[string]any {
	if old == nil || !old.Exists || len(old.Fields) == 0 {
		return updates
	}
	merged := make(map[string]any, len(old.Fields)+len(updates))
	for k, v := range old.Fields {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// Clone returns a deep-enough copy: the field map is copied one level so a
// cached document cannot be mutated through a returned reference. Nested
// values are shared; callers treat documents as immutable snapshots.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	copied := *d
	if d.Fields != nil {
		copied.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			copied.Fields[k] = v
		}
	}
	return &copied
}
