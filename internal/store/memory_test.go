package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyceum-app/lyceum/internal/core"
)

func seedStudents(t *testing.T, s *Memory, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		_, err := s.Put(ctx, core.MustPath(fmt.Sprintf("students/S%02d", i)), map[string]any{
			"fullName":    fmt.Sprintf("Student %02d", i),
			"classID":     fmt.Sprintf("C%d", i%3+1),
			"guardianIDs": []any{fmt.Sprintf("P%02d", i)},
		})
		require.NoError(t, err)
	}
}

func TestMemoryGetMissingIsNonExisting(t *testing.T) {
	s := NewMemory()
	doc, err := s.Get(context.Background(), core.MustPath("students/nope"))
	require.NoError(t, err)
	assert.False(t, doc.Exists)
}

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	path := core.MustPath("classes/C1")
	_, err := s.Put(ctx, path, map[string]any{"name": "4B", "teacherID": "T1"})
	require.NoError(t, err)

	doc, err := s.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, doc.Exists)
	name, _ := doc.StringField("name")
	assert.Equal(t, "4B", name)

	require.NoError(t, s.Delete(ctx, path))
	doc, err = s.Get(ctx, path)
	require.NoError(t, err)
	assert.False(t, doc.Exists)

	assert.ErrorIs(t, s.Delete(ctx, path), core.ErrNotFound)
}

func TestMemoryQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedStudents(t, s, 9)

	docs, err := s.Query(ctx, Query{
		Collection: core.CollectionStudents,
		Filters:    []Filter{{Field: "classID", Op: FilterEq, Value: "C1"}},
	})
	require.NoError(t, err)
	for _, d := range docs {
		classID, _ := d.StringField("classID")
		assert.Equal(t, "C1", classID)
	}
	assert.Len(t, docs, 3)

	docs, err = s.Query(ctx, Query{
		Collection: core.CollectionStudents,
		Filters:    []Filter{{Field: "guardianIDs", Op: FilterContains, Value: "P04"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "students/S04", docs[0].Path.String())
}

func TestMemoryQueryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	seedStudents(t, s, 5)

	docs, err := s.Query(ctx, Query{
		Collection: core.CollectionStudents,
		Order:      Order{Field: "fullName", Desc: true},
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "students/S05", docs[0].Path.String())
	assert.Equal(t, "students/S04", docs[1].Path.String())
}

func TestMemoryChangesFeed(t *testing.T) {
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	s := NewMemory()

	ch, cancel, err := s.Changes(ctx, core.CollectionClasses)
	require.NoError(t, err)
	defer cancel()

	path := core.MustPath("classes/C1")
	_, err = s.Put(ctx, path, map[string]any{"name": "4B", "teacherID": "T1"})
	require.NoError(t, err)

	select {
	case event := <-ch:
		assert.Equal(t, ChangePut, event.Type)
		assert.Equal(t, path, event.Path)
		require.NotNil(t, event.Doc)
	case <-ctx.Done():
		t.Fatal("no change event received")
	}

	require.NoError(t, s.Delete(ctx, path))
	select {
	case event := <-ch:
		assert.Equal(t, ChangeDelete, event.Type)
		assert.Nil(t, event.Doc)
	case <-ctx.Done():
		t.Fatal("no delete event received")
	}

	// Events for other collections are not delivered.
	_, err = s.Put(ctx, core.MustPath("students/S1"), map[string]any{"fullName": "Ada", "classID": "C1"})
	require.NoError(t, err)
	select {
	case event := <-ch:
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	path := core.MustPath("classes/C1")
	_, err := s.Put(ctx, path, map[string]any{"name": "4B", "teacherID": "T1"})
	require.NoError(t, err)

	doc, _ := s.Get(ctx, path)
	doc.Fields["name"] = "mutated"

	doc, _ = s.Get(ctx, path)
	name, _ := doc.StringField("name")
	assert.Equal(t, "4B", name)
}
