package schema

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lyceum-app/lyceum/internal/core"
)

var formatValidator = validator.New()

// Validate checks newDoc against the schema. On create (oldDoc nil or not
// existing) required fields must be present and typed; on update only the
// supplied fields are checked, so partial updates are permitted. Immutable
// fields may either be absent from the update payload or equal their stored
// value.
//
// Returns nil, a *core.ImmutableFieldError, or a *core.ValidationError.
func Validate(s Schema, oldDoc, newDoc *core.Document) error {
	if newDoc == nil {
		return &core.ValidationError{Fields: []core.FieldError{{Field: "", Message: "document required"}}}
	}
	creating := oldDoc == nil || !oldDoc.Exists

	if !creating {
		for name, spec := range s.Fields {
			if !spec.Immutable {
				continue
			}
			newValue, present := newDoc.Fields[name]
			if !present {
				continue
			}
			oldValue, had := oldDoc.Field(name)
			if had && !equalValue(oldValue, newValue) {
				return &core.ImmutableFieldError{Field: name}
			}
		}
	}

	var fieldErrs []core.FieldError
	if creating {
		for name, spec := range s.Fields {
			if !spec.Required {
				continue
			}
			if _, ok := newDoc.Fields[name]; !ok {
				fieldErrs = append(fieldErrs, core.FieldError{Field: name, Message: "required"})
			}
		}
	}
	for name, value := range newDoc.Fields {
		spec, declared := s.Fields[name]
		if !declared {
			continue
		}
		if !matchesKind(value, spec.Kind) {
			fieldErrs = append(fieldErrs, core.FieldError{
				Field:   name,
				Message: fmt.Sprintf("expected %s", spec.Kind),
			})
			continue
		}
		if spec.Format != "" {
			if str, ok := value.(string); ok {
				if err := formatValidator.Var(str, spec.Format); err != nil {
					fieldErrs = append(fieldErrs, core.FieldError{
						Field:   name,
						Message: fmt.Sprintf("invalid %s", spec.Format),
					})
				}
			}
		}
	}
	if len(fieldErrs) > 0 {
		return &core.ValidationError{Fields: fieldErrs}
	}
	return nil
}

func matchesKind(v any, kind FieldKind) bool {
	if v == nil {
		return false
	}
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt:
		switch v.(type) {
		case int, int32, int64:
			return true
		case float64:
			// JSON numbers decode to float64; accept integral values.
			f := v.(float64)
			return f == float64(int64(f))
		}
		return false
	case KindFloat:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, t)
			return err == nil
		}
		return false
	case KindMap:
		_, ok := v.(map[string]any)
		return ok
	case KindList:
		rv := reflect.ValueOf(v)
		return rv.Kind() == reflect.Slice
	case KindStringList:
		switch list := v.(type) {
		case []string:
			return true
		case []any:
			for _, item := range list {
				if _, ok := item.(string); !ok {
					return false
				}
			}
			return true
		}
		return false
	}
	return false
}

func equalValue(a, b any) bool {
	// Times may arrive as time.Time or RFC3339 strings depending on the
	// decode path; normalise before comparing.
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			return at.Equal(bt)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
