package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/mauzec/todo-keeper/core"
)

// FileMedium keeps the whole keyspace in a single JSON file. Every
// mutation rewrites the file through a tmp+fsync+rename cycle, so a
// crash mid-write leaves the previous file intact.
type FileMedium struct {
	path  string
	data  map[string]string
	limit int
	used  int

	closed bool
	mu     sync.Mutex
}

// NewFileMedium loads the keyspace at path, creating parent
// directories as needed. A missing file is an empty keyspace.
// limit <= 0 means DefaultCapacity.
func NewFileMedium(path string, limit int) (*FileMedium, error) {
	const op = "storage.NewFileMedium"

	if path == "" {
		return nil, core.NewValidationError("required path", op)
	}
	if limit <= 0 {
		limit = DefaultCapacity
	}

	data, err := readKeyspace(path)
	if err != nil {
		return nil, core.NewStorageUnavailableError("read keyspace", err, op).
			WithMeta("path", path)
	}

	used := 0
	for k, v := range data {
		used += entrySize(k, v)
	}

	return &FileMedium{
		path:  path,
		data:  data,
		limit: limit,
		used:  used,
	}, nil
}

func (m *FileMedium) Get(key string) (string, bool, error) {
	const op = "storage.FileMedium.Get"

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, core.NewStorageUnavailableError("medium closed", nil, op)
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *FileMedium) Set(key, value string) error {
	const op = "storage.FileMedium.Set"

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.NewStorageUnavailableError("medium closed", nil, op)
	}

	next := m.used + entrySize(key, value)
	old, had := m.data[key]
	if had {
		next -= entrySize(key, old)
	}
	if next > m.limit {
		return core.NewQuotaExceededError("storage capacity exceeded", nil, op).
			WithMeta("need_bytes", strconv.Itoa(next)).
			WithMeta("limit_bytes", strconv.Itoa(m.limit))
	}

	m.data[key] = value
	if err := writeKeyspace(m.path, m.data); err != nil {
		if had {
			m.data[key] = old
		} else {
			delete(m.data, key)
		}
		return core.NewStorageUnavailableError("write keyspace", err, op).
			WithMeta("path", m.path)
	}
	m.used = next
	return nil
}

func (m *FileMedium) Delete(key string) error {
	const op = "storage.FileMedium.Delete"

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.NewStorageUnavailableError("medium closed", nil, op)
	}
	old, had := m.data[key]
	if !had {
		return nil
	}

	delete(m.data, key)
	if err := writeKeyspace(m.path, m.data); err != nil {
		m.data[key] = old
		return core.NewStorageUnavailableError("write keyspace", err, op).
			WithMeta("path", m.path)
	}
	m.used -= entrySize(key, old)
	return nil
}

func (m *FileMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *FileMedium) BytesUsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *FileMedium) Capacity() int {
	return m.limit
}

func readKeyspace(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("keyspace: open: %w", err)
	}
	defer f.Close()

	data := make(map[string]string)
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("keyspace: decode: %w", err)
	}
	return data, nil
}

func writeKeyspace(path string, data map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("keyspace: create dir: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(
		tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC,
		0o644,
	)
	if err != nil {
		return fmt.Errorf("keyspace: open tmp: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		closeErr := f.Close()
		if closeErr != nil {
			return fmt.Errorf("keyspace: encode: %v: close:%w", err, closeErr)
		}
		return fmt.Errorf("keyspace: encode: %w", err)
	} else if err := f.Sync(); err != nil {
		closeErr := f.Close()
		if closeErr != nil {
			return fmt.Errorf("keyspace: fsync: %v: close:%w", err, closeErr)
		}
		return fmt.Errorf("keyspace: fsync: %w", err)
	} else if err := f.Close(); err != nil {
		return fmt.Errorf("keyspace: close: %w", err)
	} else if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("keyspace: rename tmp: %w", err)
	} else {
		return nil
	}
}
