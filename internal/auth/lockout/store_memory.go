package lockout

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (s *InMemoryStore) RecordFailure(_ context.Context, key string, now time.Time, window time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || now.Sub(rec.LastFailureAt) > window {
		rec = &Record{LockedUntil: lockedUntil(rec)}
		s.records[key] = rec
	}
	rec.Failures++
	rec.LastFailureAt = now
	out := *rec
	return &out, nil
}

func lockedUntil(rec *Record) time.Time {
	if rec == nil {
		return time.Time{}
	}
	return rec.LockedUntil
}

func (s *InMemoryStore) Lock(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{}
		s.records[key] = rec
	}
	rec.LockedUntil = until
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
