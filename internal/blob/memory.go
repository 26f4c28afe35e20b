package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/lyceum-app/lyceum/internal/core"
)

// Memory keeps attachments in process, for tests and local development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

// Upload implements Store.
func (m *Memory) Upload(_ context.Context, key string, contentType string, content io.Reader) (Info, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return Info{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return Info{Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

// Open implements Store.
func (m *Memory) Open(_ context.Context, key string) (io.ReadCloser, Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, Info{}, fmt.Errorf("%w: attachment %s", core.ErrNotFound, key)
	}
	info := Info{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

// Remove implements Store.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
