package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/principal"
	"github.com/lyceum-app/lyceum/internal/store"
)

func newService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	docs := store.NewMemory()
	return NewService(NewMemory(), docs, policy.NewEngine()), docs
}

func teacherOf(id, classID string) principal.Principal {
	return principal.Principal{
		ID: id, Role: principal.RoleTeacher,
		TaughtClassIDs: map[string]struct{}{classID: {}},
	}
}

func TestAttachAndFetchFollowDocumentPolicy(t *testing.T) {
	ctx := context.Background()
	svc, docs := newService(t)
	path := core.MustPath("classes/C1")
	_, err := docs.Put(ctx, path, map[string]any{
		"name": "4B", "teacherID": "T1", "studentIDs": []any{"S1"},
	})
	require.NoError(t, err)

	owner := teacherOf("T1", "C1")
	info, err := svc.Attach(ctx, owner, path, "syllabus.pdf", "application/pdf", strings.NewReader("pdf-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Size)

	// An enrolled student can read the class, so the attachment follows.
	student := principal.Principal{ID: "S1", Role: principal.RoleStudent}
	r, got, err := svc.Fetch(ctx, student, path, "syllabus.pdf")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))
	assert.Equal(t, "application/pdf", got.ContentType)

	// An unrelated student cannot.
	outsider := principal.Principal{ID: "S9", Role: principal.RoleStudent}
	_, _, err = svc.Fetch(ctx, outsider, path, "syllabus.pdf")
	assert.ErrorIs(t, err, core.ErrAuthorizationDenied)

	// Only whoever may update the class may attach to it.
	_, err = svc.Attach(ctx, student, path, "notes.txt", "text/plain", strings.NewReader("x"))
	assert.ErrorIs(t, err, core.ErrAuthorizationDenied)
}

func TestDetachRemovesAttachment(t *testing.T) {
	ctx := context.Background()
	svc, docs := newService(t)
	path := core.MustPath("classes/C1")
	_, err := docs.Put(ctx, path, map[string]any{"name": "4B", "teacherID": "T1"})
	require.NoError(t, err)

	owner := teacherOf("T1", "C1")
	_, err = svc.Attach(ctx, owner, path, "syllabus.pdf", "application/pdf", strings.NewReader("pdf"))
	require.NoError(t, err)
	require.NoError(t, svc.Detach(ctx, owner, path, "syllabus.pdf"))

	_, _, err = svc.Fetch(ctx, owner, path, "syllabus.pdf")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAttachToMissingDocument(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	_, err := svc.Attach(ctx, teacherOf("T1", "C1"), core.MustPath("classes/C1"), "a", "text/plain", strings.NewReader("x"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}
