package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyceum-app/lyceum/internal/core"
)

func studentsSchema(t *testing.T) Schema {
	t.Helper()
	s, ok := For(core.CollectionStudents)
	require.True(t, ok)
	return s
}

func TestValidateCreateRequiresFields(t *testing.T) {
	s := studentsSchema(t)
	doc := core.NewDocument(core.MustPath("students/S1"), map[string]any{
		"fullName": "Ada Lovelace",
	})
	err := Validate(s, nil, doc)
	require.Error(t, err)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "classID", verr.Fields[0].Field)
	assert.True(t, errors.Is(err, core.ErrValidationFailed))
}

func TestValidateCreateOK(t *testing.T) {
	s := studentsSchema(t)
	doc := core.NewDocument(core.MustPath("students/S1"), map[string]any{
		"fullName":    "Ada Lovelace",
		"classID":     "C1",
		"birthDate":   "2015-12-10",
		"guardianIDs": []any{"P1"},
	})
	require.NoError(t, Validate(s, nil, doc))
}

func TestValidateOptionalFieldsStillTypeChecked(t *testing.T) {
	s := studentsSchema(t)
	doc := core.NewDocument(core.MustPath("students/S1"), map[string]any{
		"fullName":  "Ada Lovelace",
		"classID":   "C1",
		"birthDate": "not-a-date",
	})
	err := Validate(s, nil, doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidationFailed))
}

func TestValidatePartialUpdateSkipsRequired(t *testing.T) {
	s := studentsSchema(t)
	old := core.NewDocument(core.MustPath("students/S1"), map[string]any{
		"fullName": "Ada Lovelace",
		"classID":  "C1",
	})
	update := core.NewDocument(old.Path, map[string]any{
		"classID": "C2",
	})
	require.NoError(t, Validate(s, old, update))
}

func TestValidateImmutableField(t *testing.T) {
	s := studentsSchema(t)
	created := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	old := core.NewDocument(core.MustPath("students/S1"), map[string]any{
		"fullName":  "Ada Lovelace",
		"classID":   "C1",
		"createdAt": created,
		"createdBy": "admin-1",
	})

	// Absent from the payload: fine.
	update := core.NewDocument(old.Path, map[string]any{"fullName": "Ada L."})
	require.NoError(t, Validate(s, old, update))

	// Equal value: fine, even as an RFC3339 string.
	update = core.NewDocument(old.Path, map[string]any{
		"createdAt": created.Format(time.RFC3339),
	})
	require.NoError(t, Validate(s, old, update))

	// Changed value: rejected with the offending field.
	update = core.NewDocument(old.Path, map[string]any{
		"createdBy": "someone-else",
	})
	err := Validate(s, old, update)
	require.Error(t, err)
	var ierr *core.ImmutableFieldError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "createdBy", ierr.Field)
	assert.True(t, errors.Is(err, core.ErrImmutableField))
}

func TestValidateUnknownFieldsTolerated(t *testing.T) {
	s := studentsSchema(t)
	doc := core.NewDocument(core.MustPath("students/S1"), map[string]any{
		"fullName":   "Ada Lovelace",
		"classID":    "C1",
		"uiOnlyFlag": true,
	})
	require.NoError(t, Validate(s, nil, doc))
}

func TestValidateEmailFormat(t *testing.T) {
	s, ok := For(core.CollectionUsers)
	require.True(t, ok)
	doc := core.NewDocument(core.MustPath("users/U1"), map[string]any{
		"role":        "teacher",
		"displayName": "Grace Hopper",
		"email":       "not-an-email",
	})
	err := Validate(s, nil, doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidationFailed))
}

func TestEveryCollectionHasSchema(t *testing.T) {
	for _, c := range core.Collections() {
		_, ok := For(c)
		assert.True(t, ok, c.String())
	}
}
