package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lyceum-app/lyceum/internal/core"
)

// Memory implements Store in process. It backs unit tests and offline
// development; semantics mirror the Postgres store, including change feed
// emission on every successful write.
type Memory struct {
	mu          sync.RWMutex
	documents   map[string]*core.Document
	subscribers map[core.Collection][]chan ChangeEvent
	now         func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		documents:   make(map[string]*core.Document),
		subscribers: make(map[core.Collection][]chan ChangeEvent),
		now:         time.Now,
	}
}

// Get implements Store.
func (s *Memory) Get(_ context.Context, path core.Path) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.documents[path.String()]; ok {
		return doc.Clone(), nil
	}
	return &core.Document{Path: path, Exists: false}, nil
}

// Put implements Store.
func (s *Memory) Put(_ context.Context, path core.Path, fields map[string]any) (*core.Document, error) {
	doc := core.NewDocument(path, fields)
	doc.UpdatedAt = s.now()

	s.mu.Lock()
	s.documents[path.String()] = doc.Clone()
	targets := append([]chan ChangeEvent(nil), s.subscribers[path.Collection]...)
	s.mu.Unlock()

	s.emit(targets, ChangeEvent{Type: ChangePut, Path: path, Doc: doc.Clone(), At: doc.UpdatedAt})
	return doc, nil
}

// Delete implements Store.
func (s *Memory) Delete(_ context.Context, path core.Path) error {
	s.mu.Lock()
	if _, ok := s.documents[path.String()]; !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	delete(s.documents, path.String())
	targets := append([]chan ChangeEvent(nil), s.subscribers[path.Collection]...)
	s.mu.Unlock()

	s.emit(targets, ChangeEvent{Type: ChangeDelete, Path: path, At: s.now()})
	return nil
}

// Query implements Store.
func (s *Memory) Query(_ context.Context, q Query) ([]*core.Document, error) {
	s.mu.RLock()
	matched := make([]*core.Document, 0)
	prefix := q.Collection.String() + "/"
	for key, doc := range s.documents {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if matchesFilters(doc, q.Filters) {
			matched = append(matched, doc.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		less := compareKeys(sortKey(matched[i], q.Order.Field), sortKey(matched[j], q.Order.Field)) < 0
		if q.Order.Desc {
			return !less
		}
		return less
	})

	if q.AfterKey != nil {
		after, ok := q.AfterKey.(Key)
		if !ok {
			if p, isPtr := q.AfterKey.(*Key); isPtr && p != nil {
				after, ok = *p, true
			}
		}
		if ok {
			filtered := matched[:0]
			for _, doc := range matched {
				cmp := compareKeys(sortKey(doc, q.Order.Field), after)
				if (q.Order.Desc && cmp < 0) || (!q.Order.Desc && cmp > 0) {
					filtered = append(filtered, doc)
				}
			}
			matched = filtered
		}
	} else if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Changes implements Store.
func (s *Memory) Changes(ctx context.Context, collection core.Collection) (<-chan ChangeEvent, func(), error) {
	ch := make(chan ChangeEvent, 64)
	s.mu.Lock()
	s.subscribers[collection] = append(s.subscribers[collection], ch)
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			subs := s.subscribers[collection]
			for i, sub := range subs {
				if sub == ch {
					s.subscribers[collection] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

func (s *Memory) emit(targets []chan ChangeEvent, event ChangeEvent) {
	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; the subscriber re-syncs via
			// read-through on its next access. Snapshots make this safe.
		}
	}
}

func matchesFilters(doc *core.Document, filters []Filter) bool {
	for _, f := range filters {
		value, ok := doc.Field(f.Field)
		if !ok {
			return false
		}
		switch f.Op {
		case FilterEq:
			if !equalScalar(value, f.Value) {
				return false
			}
		case FilterContains:
			needle, ok := f.Value.(string)
			if !ok {
				return false
			}
			if _, ok := doc.StringSetField(f.Field)[needle]; !ok {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equalScalar(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
