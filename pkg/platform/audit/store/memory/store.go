package memory

import (
	"context"
	"slices"
	"sync"

	id "acsadmin/pkg/domain"
	audit "acsadmin/pkg/platform/audit"
)

// InMemoryStore keeps audit events in process, newest last.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByAccount returns the account's events, newest first.
func (s *InMemoryStore) ListByAccount(_ context.Context, accountID id.AccountID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range slices.Backward(s.events) {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Actions returns every recorded action in order. Tests use it to assert audit trails.
func (s *InMemoryStore) Actions() []audit.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Action, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}
