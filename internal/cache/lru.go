package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/lyceum-app/lyceum/internal/core"
)

// LRU is the in-process implementation: bounded capacity with
// least-recently-used eviction, plus lazy TTL expiry on access. Whichever
// limit trips first wins. All operations are O(1).
type LRU struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	order      *list.List
	entries    map[string]*list.Element
	now        func() time.Time
}

type lruEntry struct {
	key        string
	doc        *core.Document
	insertedAt time.Time
	ttl        time.Duration
}

// NewLRU builds a cache bounded to capacity entries. defaultTTL applies to
// puts with a zero ttl; a zero defaultTTL means entries only leave by
// eviction or invalidation.
func NewLRU(capacity int, defaultTTL time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 256
	}
	return &LRU{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		order:      list.New(),
		entries:    make(map[string]*list.Element, capacity),
		now:        time.Now,
	}
}

// Get implements Cache. An expired entry is dropped on access and reported
// as a miss.
func (c *LRU) Get(_ context.Context, path core.Path) (*core.Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[path.String()]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*lruEntry)
	if c.expired(entry) {
		c.remove(elem)
		return nil, false, nil
	}
	c.order.MoveToFront(elem)
	return entry.doc.Clone(), true, nil
}

// Put implements Cache. Inserting beyond capacity evicts the
// least-recently-used entry.
func (c *LRU) Put(_ context.Context, path core.Path, doc *core.Document, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := path.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.doc = doc.Clone()
		entry.insertedAt = c.now()
		entry.ttl = ttl
		c.order.MoveToFront(elem)
		return nil
	}
	elem := c.order.PushFront(&lruEntry{
		key:        key,
		doc:        doc.Clone(),
		insertedAt: c.now(),
		ttl:        ttl,
	})
	c.entries[key] = elem
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
	}
	return nil
}

// Invalidate implements Cache.
func (c *LRU) Invalidate(_ context.Context, path core.Path) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[path.String()]; ok {
		c.remove(elem)
	}
	return nil
}

// Len returns the live entry count. Expired-but-unvisited entries count
// until touched.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU) expired(entry *lruEntry) bool {
	return entry.ttl > 0 && c.now().Sub(entry.insertedAt) > entry.ttl
}

func (c *LRU) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := elem.Value.(*lruEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
