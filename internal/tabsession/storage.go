package tabsession

import "sync"

// Keys a tab keeps in its transient store.
const (
	keyTabID      = "tab_id"
	keyCredential = "auth_token"
)

// TabStore is per-tab transient storage. It survives a reload of the same
// tab and is never shared between tabs.
type TabStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

type MemoryTabStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryTabStore() *MemoryTabStore {
	return &MemoryTabStore{values: make(map[string]string)}
}

func (s *MemoryTabStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryTabStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemoryTabStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Len is the number of keys held.
func (s *MemoryTabStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
