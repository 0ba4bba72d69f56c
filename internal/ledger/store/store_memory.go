package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"acsadmin/internal/ledger/models"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
)

type rowKey struct {
	account id.AccountID
	token   id.SessionToken
}

// InMemoryStore keys rows by (account, token) so a duplicate pair is
// impossible by construction.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[rowKey]*models.Row
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{rows: make(map[rowKey]*models.Row)}
}

func (s *InMemoryStore) Find(_ context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.rows[rowKey{accountID, token}]; ok {
		return copyRow(row), nil
	}
	return nil, fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) Insert(_ context.Context, row *models.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rowKey{row.AccountID, row.SessionToken}
	if _, exists := s.rows[key]; exists {
		return fmt.Errorf("session row exists: %w", sentinel.ErrConflict)
	}
	s.rows[key] = copyRow(row)
	return nil
}

func (s *InMemoryStore) Touch(_ context.Context, accountID id.AccountID, token id.SessionToken, deviceInfo string, now time.Time) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[rowKey{accountID, token}]
	if !ok {
		return nil, fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
	}
	row.LastActive = now
	if deviceInfo != "" {
		row.DeviceInfo = deviceInfo
	}
	return copyRow(row), nil
}

func (s *InMemoryStore) Delete(_ context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rowKey{accountID, token}
	row, ok := s.rows[key]
	if !ok {
		return nil, fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
	}
	delete(s.rows, key)
	return row, nil
}

func (s *InMemoryStore) DeleteByID(_ context.Context, accountID id.AccountID, rowID id.RowID) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, row := range s.rows {
		if row.ID == rowID && row.AccountID == accountID {
			delete(s.rows, key)
			return row, nil
		}
	}
	return nil, fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) DeleteAll(_ context.Context, accountID id.AccountID) ([]*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*models.Row
	for key, row := range s.rows {
		if key.account == accountID {
			removed = append(removed, row)
			delete(s.rows, key)
		}
	}
	return removed, nil
}

func (s *InMemoryStore) ListByAccount(_ context.Context, accountID id.AccountID) ([]*models.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]*models.Row, 0)
	for key, row := range s.rows {
		if key.account == accountID {
			rows = append(rows, copyRow(row))
		}
	}
	sortByLastActive(rows)
	return rows, nil
}

func (s *InMemoryStore) DeleteStale(_ context.Context, cutoff time.Time) ([]*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*models.Row
	for key, row := range s.rows {
		if row.IsStale(cutoff) {
			removed = append(removed, row)
			delete(s.rows, key)
		}
	}
	return removed, nil
}

func copyRow(row *models.Row) *models.Row {
	c := *row
	return &c
}

// sortByLastActive orders most recently active first, ties broken by creation.
func sortByLastActive(rows []*models.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].LastActive.Equal(rows[j].LastActive) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].LastActive.After(rows[j].LastActive)
	})
}
