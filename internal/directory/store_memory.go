package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
)

// InMemoryStore lives as long as the process. The simulator uses it when no
// directory file is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.AccountID]Entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.AccountID]Entry)}
}

func (s *InMemoryStore) Upsert(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.AccountID] = entry
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, accountID id.AccountID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[accountID]
	if !ok {
		return nil, fmt.Errorf("directory entry not found: %w", sentinel.ErrNotFound)
	}
	return &e, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

func (s *InMemoryStore) Remove(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[accountID]; !ok {
		return fmt.Errorf("directory entry not found: %w", sentinel.ErrNotFound)
	}
	delete(s.entries, accountID)
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[id.AccountID]Entry)
	return nil
}
