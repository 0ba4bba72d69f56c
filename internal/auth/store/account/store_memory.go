package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"acsadmin/internal/auth/models"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
)

// InMemoryStore keeps accounts in process. Codes come from a counter that
// only moves forward, matching the Postgres sequence.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[id.AccountID]*models.Account
	lastCode int
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{accounts: make(map[id.AccountID]*models.Account)}
}

func (s *InMemoryStore) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == account.Email {
			return fmt.Errorf("email already registered: %w", sentinel.ErrConflict)
		}
	}
	stored := *account
	s.accounts[account.ID] = &stored
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, accountID id.AccountID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[accountID]; ok {
		return copyOf(a), nil
	}
	return nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return copyOf(a), nil
		}
	}
	return nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindByCode(_ context.Context, code id.AccountCode) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Code == code {
			return copyOf(a), nil
		}
	}
	return nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
}

// Activate assigns the next code, marks the account active and drops the
// verification hash. An already active account is returned unchanged.
func (s *InMemoryStore) Activate(_ context.Context, accountID id.AccountID, now time.Time) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
	}
	if a.IsActive() {
		return copyOf(a), nil
	}
	s.lastCode++
	a.Code = id.FormatAccountCode(s.lastCode)
	a.Status = models.AccountStatusActive
	a.ActivatedAt = &now
	a.VerificationHash = ""
	a.VerificationExpiresAt = nil
	return copyOf(a), nil
}

// SetVerification replaces the outstanding token hash of a pending account.
func (s *InMemoryStore) SetVerification(_ context.Context, accountID id.AccountID, hash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.IsActive() {
		return fmt.Errorf("pending account not found: %w", sentinel.ErrNotFound)
	}
	a.VerificationHash = hash
	a.VerificationExpiresAt = &expiresAt
	return nil
}

func (s *InMemoryStore) BumpEpoch(_ context.Context, accountID id.AccountID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
	}
	a.TokenEpoch++
	return a.TokenEpoch, nil
}

func copyOf(a *models.Account) *models.Account {
	c := *a
	return &c
}
