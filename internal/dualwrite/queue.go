package dualwrite

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/policy"
	"github.com/lyceum-app/lyceum/internal/principal"
)

// queuedWrite is one parked offline write. Principal is the session
// snapshot taken at enqueue time; replay re-resolves it server-side, the
// snapshot only drives the advisory pre-check.
type queuedWrite struct {
	ID         string
	Principal  principal.Principal
	Op         policy.Operation
	Path       core.Path
	Fields     map[string]any
	Prior      *core.Document
	EnqueuedAt time.Time
	Attempts   int
}

// offlineQueue holds writes in arrival order.
type offlineQueue struct {
	mu    sync.Mutex
	items []*queuedWrite
}

func newOfflineQueue() *offlineQueue {
	return &offlineQueue{}
}

func (q *offlineQueue) add(item *queuedWrite) string {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return item.ID
}

// pop removes and returns the oldest item.
func (q *offlineQueue) pop() (*queuedWrite, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// requeueFront puts an item back at the head, preserving replay order
// after a transient failure.
func (q *offlineQueue) requeueFront(item *queuedWrite) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*queuedWrite{item}, q.items...)
}

// remove takes an item out by id, for cancellation.
func (q *offlineQueue) remove(id string) (*queuedWrite, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item, true
		}
	}
	return nil, false
}

func (q *offlineQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
