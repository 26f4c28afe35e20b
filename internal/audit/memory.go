package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process recorder used by tests and single-node setups.
// Entries are stored in append order and handed out as copies.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Recorder.
func (m *Memory) Append(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Range implements Reader.
func (m *Memory) Range(_ context.Context, start, end time.Time) ([]Entry, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("audit: range end before start")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.At.Before(start) || !e.At.Before(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Len reports the number of appended entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
