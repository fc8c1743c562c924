package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mauzec/todo-keeper/core"
)

const boltKeeperBucket = "keeper-kv"

// BoltMedium stores the keyspace in a single bbolt bucket. bbolt gives
// us crash-safe writes without the whole-file rewrite FileMedium pays.
type BoltMedium struct {
	db    *bolt.DB
	limit int
}

// NewBoltMedium opens (or creates) the database at path.
// limit <= 0 means DefaultCapacity.
func NewBoltMedium(path string, limit int) (*BoltMedium, error) {
	const op = "storage.NewBoltMedium"

	if path == "" {
		return nil, core.NewValidationError("required bolt path", op)
	}
	if limit <= 0 {
		limit = DefaultCapacity
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, core.NewStorageUnavailableError("create bolt dir", err, op).
			WithMeta("path", path)
	}
	db, err := bolt.Open(path, 0o600,
		&bolt.Options{Timeout: time.Second},
	)
	if err != nil {
		return nil, core.NewStorageUnavailableError("opening bolt", err, op).
			WithMeta("path", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists([]byte(boltKeeperBucket))
		return berr
	}); err != nil {
		_ = db.Close()
		return nil, core.NewStorageUnavailableError("cant init bucket", err, op)
	}

	return &BoltMedium{db: db, limit: limit}, nil
}

func (m *BoltMedium) Get(key string) (string, bool, error) {
	const op = "storage.BoltMedium.Get"

	if m.db == nil {
		return "", false, core.NewStorageUnavailableError("bolt not init", nil, op)
	}

	var value string
	var found bool
	if err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltKeeperBucket))
		if b == nil {
			return errors.New("bucket miss")
		}
		if v := b.Get([]byte(key)); v != nil {
			value = string(v)
			found = true
		}
		return nil
	}); err != nil {
		return "", false, core.NewStorageUnavailableError("bolt view", err, op)
	}
	return value, found, nil
}

func (m *BoltMedium) Set(key, value string) error {
	const op = "storage.BoltMedium.Set"

	if m.db == nil {
		return core.NewStorageUnavailableError("bolt not init", nil, op)
	}

	if err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltKeeperBucket))
		if b == nil {
			return errors.New("bucket miss")
		}

		next := entrySize(key, value)
		if err := b.ForEach(func(k, v []byte) error {
			if string(k) == key {
				return nil
			}
			next += len(k) + len(v)
			return nil
		}); err != nil {
			return err
		}
		if next > m.limit {
			return core.NewQuotaExceededError("storage capacity exceeded", nil, op).
				WithMeta("need_bytes", strconv.Itoa(next)).
				WithMeta("limit_bytes", strconv.Itoa(m.limit))
		}

		return b.Put([]byte(key), []byte(value))
	}); err != nil {
		if _, ok := core.AsAppError(err); ok {
			return err
		}
		return core.NewStorageUnavailableError("bolt update", err, op)
	}
	return nil
}

func (m *BoltMedium) Delete(key string) error {
	const op = "storage.BoltMedium.Delete"

	if m.db == nil {
		return core.NewStorageUnavailableError("bolt not init", nil, op)
	}
	if err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltKeeperBucket))
		if b == nil {
			return errors.New("bucket miss")
		}
		return b.Delete([]byte(key))
	}); err != nil {
		return core.NewStorageUnavailableError("bolt update", err, op)
	}
	return nil
}

func (m *BoltMedium) Close() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// BytesUsed sums key and value sizes across the bucket.
func (m *BoltMedium) BytesUsed() (int, error) {
	if m.db == nil {
		return 0, fmt.Errorf("storage: bolt not init")
	}
	used := 0
	if err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltKeeperBucket))
		if b == nil {
			return errors.New("bucket miss")
		}
		return b.ForEach(func(k, v []byte) error {
			used += len(k) + len(v)
			return nil
		})
	}); err != nil {
		return 0, err
	}
	return used, nil
}

func (m *BoltMedium) Capacity() int {
	return m.limit
}
