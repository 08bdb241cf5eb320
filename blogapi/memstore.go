package blogapi

import (
	"sync"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process CredentialStore. Nothing survives a restart,
// which makes it a fit for tests and short-lived tools.
type MemoryStore struct {
	// mu serialises writers so CompareAndSwap is atomic with respect to Set
	// and Delete. Readers go straight to the cache.
	mu    sync.Mutex
	items *cache.Cache
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: cache.New(cache.NoExpiration, 0)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return "", nil
	}

	return v.(string), nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items.Set(key, value, cache.NoExpiration)

	return nil
}

func (m *MemoryStore) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		m.items.Delete(k)
	}

	return nil
}

func (m *MemoryStore) CompareAndSwap(key, oldValue, newValue string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := ""
	if v, ok := m.items.Get(key); ok {
		current = v.(string)
	}

	if current != oldValue {
		return false, nil
	}

	m.items.Set(key, newValue, cache.NoExpiration)

	return true, nil
}
