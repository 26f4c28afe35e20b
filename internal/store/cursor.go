package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lyceum-app/lyceum/internal/core"
)

// Cursor traversal sentinels.
var (
	// ErrEnd signals that Next was called past the last page.
	ErrEnd = errors.New("cursor: end of collection")
	// ErrStart signals that Previous was called before the first page.
	ErrStart = errors.New("cursor: start of collection")
)

// Key is the composite sort position of a document: the value of the sort
// field plus the path as a tiebreaker, so duplicate sort values cannot make
// pagination skip or repeat rows.
type Key struct {
	Value any    `json:"v,omitempty"`
	Path  string `json:"p"`
}

// Page is one window over an ordered collection.
type Page struct {
	Items   []*core.Document
	HasMore bool
	// Token is the opaque resume position: feed it to ResumeCursor to
	// continue after the last item of this page.
	Token string
}

// Cursor traverses an ordered collection page by page. Keyset mode is the
// default: the resume position is the last item's sort key, so concurrent
// insertions cannot make pages skip or repeat rows the way numeric offsets
// do. Offset mode is retained only for collections without a stable sort
// key (NewOffsetCursor). Keyset comparisons order sort values by their
// text rendering in both backends.
type Cursor struct {
	store      Store
	query      Query
	pageSize   int
	offsetMode bool
	scope      func(*core.Document) bool

	started bool
	done    bool
	// history[i] is the exclusive start key of page i+1 (history[0] is
	// nil, the start of the collection). len(history)-1 is the index of
	// the page most recently returned.
	history []*Key
	// pageIndex is the zero-based index of the next page in offset mode.
	pageIndex int
}

// NewCursor prepares a keyset traversal of q using pageSize rows per page.
func NewCursor(st Store, q Query, pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Cursor{store: st, query: q, pageSize: pageSize}
}

// NewOffsetCursor prepares a numeric-offset traversal. Degraded mode:
// concurrent insertions can skip or duplicate rows between pages.
func NewOffsetCursor(st Store, q Query, pageSize int) *Cursor {
	c := NewCursor(st, q, pageSize)
	c.offsetMode = true
	return c
}

// Scoped installs a row predicate. Rows failing the predicate are skipped
// and do not count toward the page size; the cursor keeps scanning forward
// until the page fills or the collection ends.
func (c *Cursor) Scoped(fn func(*core.Document) bool) *Cursor {
	c.scope = fn
	return c
}

// First fetches the first page.
func (c *Cursor) First(ctx context.Context) (Page, error) {
	c.started = true
	c.done = false
	c.history = []*Key{nil}
	c.pageIndex = 0
	return c.fetch(ctx, nil)
}

// Next fetches the page after the last one returned. Returns ErrEnd once
// the collection is exhausted.
func (c *Cursor) Next(ctx context.Context) (Page, error) {
	if !c.started {
		return c.First(ctx)
	}
	if c.done {
		return Page{}, ErrEnd
	}
	return c.fetch(ctx, c.history[len(c.history)-1])
}

// Previous fetches the page before the last one returned. Returns ErrStart
// at the beginning of the collection.
func (c *Cursor) Previous(ctx context.Context) (Page, error) {
	if c.offsetMode {
		if !c.started || c.pageIndex < 2 {
			return Page{}, ErrStart
		}
		c.pageIndex -= 2
		c.done = false
		return c.fetch(ctx, nil)
	}
	if !c.started || len(c.history) < 3 {
		return Page{}, ErrStart
	}
	// Drop the current page and the prior page's end key; fetch re-adds
	// the latter as it returns the prior page.
	c.history = c.history[:len(c.history)-2]
	c.done = false
	return c.fetch(ctx, c.history[len(c.history)-1])
}

func (c *Cursor) fetch(ctx context.Context, after *Key) (Page, error) {
	var (
		items   []*core.Document
		hasMore bool
	)
	// Each window asks for one extra row to detect whether the store holds
	// more. Scoped rows that fail the predicate are dropped without counting
	// toward the page, so the window advances past them until the page
	// fills or a short window proves the collection exhausted.
	windowAfter := after
	for {
		q := c.query
		q.Limit = c.pageSize + 1
		if c.offsetMode {
			q.Offset = c.pageIndex * c.pageSize
		} else if windowAfter != nil {
			q.AfterKey = *windowAfter
		}
		docs, err := c.store.Query(ctx, q)
		if err != nil {
			return Page{}, err
		}
		exhausted := len(docs) <= c.pageSize
		for _, doc := range docs {
			if c.scope != nil && !c.scope(doc) {
				continue
			}
			if len(items) == c.pageSize {
				hasMore = true
				break
			}
			items = append(items, doc)
		}
		if hasMore || exhausted || c.offsetMode {
			break
		}
		k := sortKey(docs[len(docs)-1], c.query.Order.Field)
		windowAfter = &k
	}
	page := Page{Items: items, HasMore: hasMore}
	var last *Key
	if len(items) > 0 {
		k := sortKey(items[len(items)-1], c.query.Order.Field)
		last = &k
		page.Token = EncodeToken(k)
	}
	c.history = append(c.history, last)
	c.pageIndex++
	if !hasMore {
		c.done = true
	}
	return page, nil
}

// ResumeCursor rebuilds a keyset cursor positioned after an opaque token,
// for stateless callers carrying the token between requests. Previous is
// not available on a resumed cursor; callers needing backward traversal
// keep the cursor instance alive instead.
func ResumeCursor(st Store, q Query, pageSize int, token string) (*Cursor, error) {
	c := NewCursor(st, q, pageSize)
	if token == "" {
		return c, nil
	}
	key, err := DecodeToken(token)
	if err != nil {
		return nil, err
	}
	c.started = true
	c.history = []*Key{nil, &key}
	return c, nil
}

// EncodeToken renders a sort key as an opaque page token.
func EncodeToken(k Key) string {
	raw, err := json.Marshal(k)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeToken parses an opaque page token.
func DecodeToken(token string) (Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Key{}, fmt.Errorf("%w: bad page token", core.ErrMalformedRequest)
	}
	var k Key
	if err := json.Unmarshal(raw, &k); err != nil {
		return Key{}, fmt.Errorf("%w: bad page token", core.ErrMalformedRequest)
	}
	return k, nil
}

// sortKey extracts a document's composite sort position.
func sortKey(doc *core.Document, field string) Key {
	k := Key{Path: doc.Path.String()}
	if field != "" {
		if v, ok := doc.Field(field); ok {
			k.Value = v
		}
	}
	return k
}

// compareKeys orders composite keys: sort value first, path as tiebreak.
func compareKeys(a, b Key) int {
	if cmp := compareValues(a.Value, b.Value); cmp != 0 {
		return cmp
	}
	switch {
	case a.Path < b.Path:
		return -1
	case a.Path > b.Path:
		return 1
	}
	return 0
}

// compareValues orders sort values by their text rendering, matching the
// SQL store's keyset comparison over JSON text so both backends paginate
// in the same order. Times normalise to RFC 3339 so time.Time values and
// their JSON round-tripped strings sort identically.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	as, bs := sortText(a), sortText(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func sortText(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", v)
}
