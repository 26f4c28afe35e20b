package dualwrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyceum-app/lyceum/internal/audit"
	"github.com/lyceum-app/lyceum/internal/cache"
	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/principal"
	"github.com/lyceum-app/lyceum/internal/store"
)

// staticResolver stands in for the identity resolver: it hands out whatever
// the test registered, so role changes between enqueue and replay are a
// single map update.
type staticResolver struct {
	mu         sync.Mutex
	principals map[string]principal.Principal
}

func newStaticResolver(ps ...principal.Principal) *staticResolver {
	r := &staticResolver{principals: make(map[string]principal.Principal)}
	for _, p := range ps {
		r.principals[p.ID] = p
	}
	return r
}

func (r *staticResolver) set(p principal.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.principals[p.ID] = p
}

func (r *staticResolver) Resolve(_ context.Context, id string) (principal.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[id]
	if !ok {
		return principal.Principal{}, &core.AuthorizationError{Reason: "unknown principal", Detail: id}
	}
	return p, nil
}

// flakyStore injects transient failures in front of a real store.
type flakyStore struct {
	store.Store
	failing atomic.Bool
}

func (f *flakyStore) Get(ctx context.Context, path core.Path) (*core.Document, error) {
	if f.failing.Load() {
		return nil, &core.TransientError{Err: errors.New("injected")}
	}
	return f.Store.Get(ctx, path)
}

func (f *flakyStore) Put(ctx context.Context, path core.Path, fields map[string]any) (*core.Document, error) {
	if f.failing.Load() {
		return nil, &core.TransientError{Err: errors.New("injected")}
	}
	return f.Store.Put(ctx, path, fields)
}

func (f *flakyStore) Delete(ctx context.Context, path core.Path) error {
	if f.failing.Load() {
		return &core.TransientError{Err: errors.New("injected")}
	}
	return f.Store.Delete(ctx, path)
}

type fixture struct {
	co       *Coordinator
	remote   *store.Memory
	flaky    *flakyStore
	lru      *cache.LRU
	trail    *audit.Memory
	resolver *staticResolver
	results  *resultLog
}

type resultLog struct {
	mu      sync.Mutex
	entries []settled
}

type settled struct {
	id  string
	res Result
	err error
}

func (l *resultLog) record(id string, res Result, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, settled{id: id, res: res, err: err})
}

func (l *resultLog) all() []settled {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]settled(nil), l.entries...)
}

func newFixture(t *testing.T, ps ...principal.Principal) *fixture {
	t.Helper()
	f := &fixture{
		remote:   store.NewMemory(),
		lru:      cache.NewLRU(64, time.Minute),
		trail:    audit.NewMemory(),
		resolver: newStaticResolver(ps...),
		results:  &resultLog{},
	}
	f.flaky = &flakyStore{Store: f.remote}
	engine := policy.NewEngine()
	guarded := store.NewGuarded(f.flaky, engine, f.resolver)
	f.co = NewCoordinator(guarded, f.lru, engine, f.trail, slog.Default(), Config{
		OnResult: f.results.record,
	})
	return f
}

func teacherOf(id string, classIDs ...string) principal.Principal {
	taught := make(map[string]struct{}, len(classIDs))
	for _, c := range classIDs {
		taught[c] = struct{}{}
	}
	return principal.Principal{ID: id, Role: principal.RoleTeacher, TaughtClassIDs: taught}
}

func studentP(id string) principal.Principal {
	return principal.Principal{ID: id, Role: principal.RoleStudent}
}

func TestWriteCommitsOnline(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)
	path := core.MustPath("attendance/C1/2026-03-02")

	res, err := f.co.Write(ctx, teacher, policy.OpCreate, path, map[string]any{
		"entries": map[string]any{"S1": "present", "S2": "absent"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	require.NotNil(t, res.Doc)

	stored, err := f.remote.Get(ctx, path)
	require.NoError(t, err)
	assert.True(t, stored.Exists)

	cached, hit, err := f.lru.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, hit)
	assert.True(t, cached.Exists)

	entries, err := f.trail.Range(ctx, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, path.String(), entries[0].ResourcePath)
}

func TestWriteRejectedHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	student := studentP("S1")
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, student, teacher)
	path := core.MustPath("grades/C1/term1")

	_, err := f.co.Write(ctx, teacher, policy.OpCreate, path, map[string]any{
		"scores": map[string]any{"S1": 85},
	})
	require.NoError(t, err)

	res, err := f.co.Write(ctx, student, policy.OpUpdate, path, map[string]any{
		"scores": map[string]any{"S1": 100},
	})
	assert.ErrorIs(t, err, core.ErrAuthorizationDenied)
	assert.Equal(t, StateRejected, res.State)
	assert.Zero(t, f.co.QueueLen())

	stored, err := f.remote.Get(ctx, path)
	require.NoError(t, err)
	scores, _ := stored.Field("scores")
	assert.Equal(t, map[string]any{"S1": 85}, scores)

	entries, err := f.trail.Range(ctx, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.StatusFailure, entries[1].Status)
	assert.Equal(t, string(policy.DenyRoleNotPermitted), entries[1].FailureReason)
}

// A write the local check allows but the store refuses must surface as a
// conflict and leave the cache holding the pre-write value.
func TestRemoteRefusalRollsBackCache(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)
	path := core.MustPath("attendance/C1/2026-03-02")

	_, err := f.co.Write(ctx, teacher, policy.OpCreate, path, map[string]any{
		"entries": map[string]any{"S1": "present"},
	})
	require.NoError(t, err)

	// The role is revoked server-side; the session still carries the old
	// teacher principal.
	f.resolver.set(studentP("T1"))

	res, err := f.co.Write(ctx, teacher, policy.OpUpdate, path, map[string]any{
		"entries": map[string]any{"S1": "late"},
	})
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, StateRolledBack, res.State)

	cached, hit, err := f.lru.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, hit)
	entries, _ := cached.Field("entries")
	assert.Equal(t, map[string]any{"S1": "present"}, entries)

	stored, err := f.remote.Get(ctx, path)
	require.NoError(t, err)
	got, _ := stored.Field("entries")
	assert.Equal(t, map[string]any{"S1": "present"}, got)
}

func TestTransientFailureParksWrite(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)
	path := core.MustPath("attendance/C1/2026-03-03")

	f.flaky.failing.Store(true)
	res, err := f.co.Write(ctx, teacher, policy.OpCreate, path, map[string]any{
		"entries": map[string]any{"S1": "present"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateCacheWritten, res.State)
	assert.NotEmpty(t, res.QueuedID)
	assert.False(t, f.co.Online())
	assert.Equal(t, 1, f.co.QueueLen())

	// The optimistic value is visible locally while parked.
	doc, err := f.co.Read(ctx, teacher, path)
	require.NoError(t, err)
	entries, _ := doc.Field("entries")
	assert.Equal(t, map[string]any{"S1": "present"}, entries)

	f.flaky.failing.Store(false)
	require.NoError(t, f.co.Flush(ctx))
	assert.Zero(t, f.co.QueueLen())
	assert.True(t, f.co.Online())

	stored, err := f.remote.Get(ctx, path)
	require.NoError(t, err)
	assert.True(t, stored.Exists)

	settledResults := f.results.all()
	require.Len(t, settledResults, 1)
	assert.Equal(t, res.QueuedID, settledResults[0].id)
	assert.Equal(t, StateCommitted, settledResults[0].res.State)
	assert.NoError(t, settledResults[0].err)
}

func TestFlushStopsOnTransientAndPreservesOrder(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)

	f.co.SetOnline(false)
	first, err := f.co.Write(ctx, teacher, policy.OpCreate, core.MustPath("attendance/C1/2026-03-02"), map[string]any{
		"entries": map[string]any{"S1": "present"},
	})
	require.NoError(t, err)
	second, err := f.co.Write(ctx, teacher, policy.OpCreate, core.MustPath("attendance/C1/2026-03-03"), map[string]any{
		"entries": map[string]any{"S1": "absent"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, f.co.QueueLen())

	f.flaky.failing.Store(true)
	err = f.co.Flush(ctx)
	assert.True(t, core.Retryable(err))
	assert.Equal(t, 2, f.co.QueueLen())
	assert.False(t, f.co.Online())

	f.flaky.failing.Store(false)
	require.NoError(t, f.co.Flush(ctx))
	assert.Zero(t, f.co.QueueLen())

	settledResults := f.results.all()
	require.Len(t, settledResults, 2)
	assert.Equal(t, first.QueuedID, settledResults[0].id)
	assert.Equal(t, second.QueuedID, settledResults[1].id)
}

func TestReadThroughFillsCache(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)
	path := core.MustPath("classes/C1")
	_, err := f.remote.Put(ctx, path, map[string]any{"name": "4B", "teacherID": "T1"})
	require.NoError(t, err)

	doc, err := f.co.Read(ctx, teacher, path)
	require.NoError(t, err)
	name, _ := doc.StringField("name")
	assert.Equal(t, "4B", name)

	// Served from cache now: remote outages no longer matter.
	f.flaky.failing.Store(true)
	doc, err = f.co.Read(ctx, teacher, path)
	require.NoError(t, err)
	assert.True(t, doc.Exists)
}

func TestReadDeniedAndMissing(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	outsider := teacherOf("T2", "C9")
	f := newFixture(t, teacher, outsider)
	path := core.MustPath("classes/C1")
	_, err := f.remote.Put(ctx, path, map[string]any{"name": "4B", "teacherID": "T1"})
	require.NoError(t, err)

	_, err = f.co.Read(ctx, outsider, path)
	assert.ErrorIs(t, err, core.ErrAuthorizationDenied)

	_, err = f.co.Read(ctx, teacher, core.MustPath("classes/C1"))
	require.NoError(t, err)
	_, err = f.co.Read(ctx, teacher, core.MustPath("announcements/none"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestListPagesThroughCollection(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)
	for _, id := range []string{"S1", "S2", "S3", "S4", "S5"} {
		_, err := f.remote.Put(ctx, core.MustPath("students/"+id), map[string]any{
			"fullName": "Student " + id, "classID": "C1",
		})
		require.NoError(t, err)
	}

	q := store.Query{Collection: core.CollectionStudents, Order: store.Order{Field: "fullName"}}
	page, err := f.co.List(ctx, teacher, q, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasMore)

	page, err = f.co.List(ctx, teacher, q, 2, page.Token)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "students/S3", page.Items[0].Path.String())

	_, err = f.co.List(ctx, studentP("S1"), q, 2, "")
	assert.ErrorIs(t, err, core.ErrAuthorizationDenied)
}

// Updates carry partial payloads: omitting an immutable field keeps the
// stored value, and a later attempt to set it to something new is still a
// violation.
func TestUpdateOmittingImmutableFieldKeepsIt(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)
	path := core.MustPath("announcements/A1")

	_, err := f.co.Write(ctx, teacher, policy.OpCreate, path, map[string]any{
		"title": "Sports day", "body": "This Friday", "authorID": "T1",
		"createdAt": "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	res, err := f.co.Write(ctx, teacher, policy.OpUpdate, path, map[string]any{
		"body": "Moved to Monday",
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)

	stored, err := f.remote.Get(ctx, path)
	require.NoError(t, err)
	created, _ := stored.StringField("createdAt")
	assert.Equal(t, "2026-01-01T00:00:00Z", created)
	body, _ := stored.StringField("body")
	assert.Equal(t, "Moved to Monday", body)
	title, _ := stored.StringField("title")
	assert.Equal(t, "Sports day", title)

	res, err = f.co.Write(ctx, teacher, policy.OpUpdate, path, map[string]any{
		"createdAt": "2030-12-31T00:00:00Z",
	})
	assert.ErrorIs(t, err, core.ErrImmutableField)
	assert.Equal(t, StateRejected, res.State)

	stored, err = f.remote.Get(ctx, path)
	require.NoError(t, err)
	created, _ = stored.StringField("createdAt")
	assert.Equal(t, "2026-01-01T00:00:00Z", created)
}

// Listing returns only rows the principal could read one by one: a teacher
// paging through students never sees another class's roster.
func TestListScopesRowsToPrincipal(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)
	for i := 1; i <= 8; i++ {
		classID := "C1"
		if i%2 == 0 {
			classID = "C9"
		}
		_, err := f.remote.Put(ctx, core.MustPath(fmt.Sprintf("students/S%d", i)), map[string]any{
			"fullName": fmt.Sprintf("Student %d", i), "classID": classID,
		})
		require.NoError(t, err)
	}

	q := store.Query{Collection: core.CollectionStudents, Order: store.Order{Field: "fullName"}}
	var rows []string
	token := ""
	for {
		page, err := f.co.List(ctx, teacher, q, 2, token)
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Items), 2)
		for _, doc := range page.Items {
			classID, _ := doc.StringField("classID")
			require.Equal(t, "C1", classID, doc.Path)
			rows = append(rows, doc.Path.String())
		}
		if !page.HasMore {
			break
		}
		token = page.Token
	}
	assert.Equal(t, []string{"students/S1", "students/S3", "students/S5", "students/S7"}, rows)
}

func TestSubscribeReceivesCommittedChanges(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)

	events, cancel := f.co.Subscribe(core.CollectionAttendance, 4)
	defer cancel()

	path := core.MustPath("attendance/C1/2026-03-02")
	_, err := f.co.Write(ctx, teacher, policy.OpCreate, path, map[string]any{
		"entries": map[string]any{"S1": "present"},
	})
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, store.ChangePut, event.Type)
		assert.Equal(t, path, event.Path)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	// Rejected writes never reach subscribers.
	_, err = f.co.Write(ctx, studentP("S1"), policy.OpUpdate, path, map[string]any{
		"entries": map[string]any{"S1": "late"},
	})
	require.Error(t, err)
	select {
	case event := <-events:
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWritesToSamePathSerialize(t *testing.T) {
	ctx := context.Background()
	teacher := teacherOf("T1", "C1")
	f := newFixture(t, teacher)
	path := core.MustPath("attendance/C1/2026-03-02")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := policy.OpUpdate
			if i == 0 {
				op = policy.OpCreate
			}
			_, _ = f.co.Write(ctx, teacher, op, path, map[string]any{
				"entries": map[string]any{"S1": "present"},
			})
		}(i)
	}
	wg.Wait()

	stored, err := f.remote.Get(ctx, path)
	require.NoError(t, err)
	assert.True(t, stored.Exists)
	cached, hit, err := f.lru.Get(ctx, path)
	require.NoError(t, err)
	require.True(t, hit)
	assert.True(t, cached.Exists)
}
