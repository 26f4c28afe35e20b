package dualwrite

import (
	"context"
	"sync"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/store"
)

// feed fans committed changes out to subscribers, keyed by collection.
type feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[core.Collection]map[int]chan store.ChangeEvent
}

func newFeed() *feed {
	return &feed{subs: make(map[core.Collection]map[int]chan store.ChangeEvent)}
}

func (f *feed) subscribe(collection core.Collection, buffer int) (<-chan store.ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan store.ChangeEvent, buffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[int]chan store.ChangeEvent)
	}
	f.subs[collection][id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[collection], id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish delivers without blocking; a subscriber that stops draining its
// buffer misses events and is expected to converge by re-reading.
func (f *feed) publish(event store.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[event.Path.Collection] {
		select {
		case ch <- event:
		default:
		}
	}
}

// relay republishes a store change feed until ctx is done. It bridges
// changes committed by other nodes into the local subscriber set.
func (f *feed) relay(ctx context.Context, events <-chan store.ChangeEvent) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			f.publish(event)
		case <-ctx.Done():
			return
		}
	}
}
