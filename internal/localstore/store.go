// Package localstore provides the client's persistent key/value storage, the
// on-disk counterpart of a browser's origin-scoped local storage.
package localstore

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Well-known keys. Each key has exactly one owning component.
const (
	KeyToken          = "stock_analysis_token" // token.Store
	KeyFavorites      = "favoriteStocks"       // market.Cache
	KeyRecentlyViewed = "recentViewedStocks"   // market.Cache
)

// Store is a string key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	// GetItem returns the value for key and whether it was present.
	GetItem(key string) (string, bool, error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(key, value string) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error
}

// GetJSON decodes the JSON value stored under key into v. It reports false
// when the key is absent.
func GetJSON(s Store, key string, v any) (bool, error) {
	raw, ok, err := s.GetItem(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key as JSON.
func SetJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.SetItem(key, string(data))
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

// Compile-time interface checks.
var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLiteStore)(nil)

// MemoryStore keeps items in process memory only. It backs the client when
// the database cannot be opened.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

// GetItem returns the value for key.
func (m *MemoryStore) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem stores value under key.
func (m *MemoryStore) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

// RemoveItem deletes key.
func (m *MemoryStore) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
