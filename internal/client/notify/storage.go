package notify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StorageKey is the single key the store persists its list under.
const StorageKey = "notifications"

// Storage persists one blob per key. Load returns nil data and no error
// when the key has never been saved.
type Storage interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
}

// FileStorage keeps each key in <Dir>/<key>.json.
type FileStorage struct {
	Dir string
}

func (s FileStorage) path(key string) string {
	return filepath.Join(s.Dir, key+".json")
}

func (s FileStorage) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return data, nil
}

// Save replaces the file atomically.
func (s FileStorage) Save(key string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(s.Dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// MemoryStorage is a Storage for tests and ephemeral clients.
type MemoryStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.blobs[key]...), nil
}

func (m *MemoryStorage) Save(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStorage) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
