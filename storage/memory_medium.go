package storage

import (
	"strconv"
	"sync"

	"github.com/mauzec/todo-keeper/core"
)

// DefaultCapacity is the byte limit media fall back to when none is
// given. It mirrors the ~5 MiB ceiling of browser-local key-value
// stores, the environment this engine grew up against.
const DefaultCapacity = 5 << 20

// MemoryMedium is a capacity-capped in-memory Medium. It backs tests
// and the degraded in-memory-only mode.
type MemoryMedium struct {
	data  map[string]string
	limit int
	used  int

	closed bool
	mu     sync.Mutex
}

// NewMemoryMedium creates a medium holding at most limit bytes.
// limit <= 0 means DefaultCapacity.
func NewMemoryMedium(limit int) *MemoryMedium {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	return &MemoryMedium{
		data:  make(map[string]string),
		limit: limit,
	}
}

func (m *MemoryMedium) Get(key string) (string, bool, error) {
	const op = "storage.MemoryMedium.Get"

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, core.NewStorageUnavailableError("medium closed", nil, op)
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryMedium) Set(key, value string) error {
	const op = "storage.MemoryMedium.Set"

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.NewStorageUnavailableError("medium closed", nil, op)
	}

	next := m.used + entrySize(key, value)
	if old, ok := m.data[key]; ok {
		next -= entrySize(key, old)
	}
	if next > m.limit {
		return core.NewQuotaExceededError("storage capacity exceeded", nil, op).
			WithMeta("need_bytes", strconv.Itoa(next)).
			WithMeta("limit_bytes", strconv.Itoa(m.limit))
	}

	m.data[key] = value
	m.used = next
	return nil
}

func (m *MemoryMedium) Delete(key string) error {
	const op = "storage.MemoryMedium.Delete"

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.NewStorageUnavailableError("medium closed", nil, op)
	}
	if old, ok := m.data[key]; ok {
		m.used -= entrySize(key, old)
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// BytesUsed reports the current accounted size.
func (m *MemoryMedium) BytesUsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *MemoryMedium) Capacity() int {
	return m.limit
}

func entrySize(key, value string) int {
	return len(key) + len(value)
}
