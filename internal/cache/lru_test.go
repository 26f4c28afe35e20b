package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyceum-app/lyceum/internal/core"
)

func doc(path string) *core.Document {
	return core.NewDocument(core.MustPath(path), map[string]any{"fullName": path, "classID": "C1"})
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, 0)

	require.NoError(t, c.Put(ctx, core.MustPath("students/S1"), doc("students/S1"), 0))
	require.NoError(t, c.Put(ctx, core.MustPath("students/S2"), doc("students/S2"), 0))

	// Touch S1 so S2 becomes least recently used.
	_, ok, err := c.Get(ctx, core.MustPath("students/S1"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Put(ctx, core.MustPath("students/S3"), doc("students/S3"), 0))

	_, ok, _ = c.Get(ctx, core.MustPath("students/S2"))
	assert.False(t, ok, "least recently used entry should have been evicted")
	_, ok, _ = c.Get(ctx, core.MustPath("students/S1"))
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, core.MustPath("students/S3"))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUTTLExpiryLazily(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 0)
	current := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	require.NoError(t, c.Put(ctx, core.MustPath("students/S1"), doc("students/S1"), time.Minute))

	_, ok, _ := c.Get(ctx, core.MustPath("students/S1"))
	require.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, core.MustPath("students/S1"))
	assert.False(t, ok, "entry older than its ttl must expire on access")
	assert.Equal(t, 0, c.Len())
}

func TestLRUPutOverwritesAndResetsTTL(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 0)
	current := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	path := core.MustPath("students/S1")
	require.NoError(t, c.Put(ctx, path, doc("students/S1"), time.Minute))
	current = current.Add(50 * time.Second)
	require.NoError(t, c.Put(ctx, path, doc("students/S1"), time.Minute))
	current = current.Add(30 * time.Second)

	_, ok, _ := c.Get(ctx, path)
	assert.True(t, ok, "overwrite should restart the ttl clock")
}

func TestLRUInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 0)
	path := core.MustPath("students/S1")
	require.NoError(t, c.Put(ctx, path, doc("students/S1"), 0))
	require.NoError(t, c.Invalidate(ctx, path))
	_, ok, _ := c.Get(ctx, path)
	assert.False(t, ok)
	// Invalidating a missing entry is a no-op.
	require.NoError(t, c.Invalidate(ctx, path))
}

func TestLRUReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 0)
	path := core.MustPath("students/S1")
	require.NoError(t, c.Put(ctx, path, doc("students/S1"), 0))

	first, ok, _ := c.Get(ctx, path)
	require.True(t, ok)
	first.Fields["fullName"] = "mutated"

	second, ok, _ := c.Get(ctx, path)
	require.True(t, ok)
	assert.NotEqual(t, "mutated", second.Fields["fullName"])
}

func TestLRUConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(32, time.Minute)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				path := core.MustPath(fmt.Sprintf("students/S%d", (w*7+i)%50))
				if i%3 == 0 {
					_ = c.Put(ctx, path, doc(path.String()), 0)
				} else if i%7 == 0 {
					_ = c.Invalidate(ctx, path)
				} else {
					_, _, _ = c.Get(ctx, path)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 32)
}
