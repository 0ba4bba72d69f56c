package store

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"acsadmin/internal/ledger/models"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
	"acsadmin/pkg/testutil"
)

type ledgerStore interface {
	Find(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error)
	Insert(ctx context.Context, row *models.Row) error
	Touch(ctx context.Context, accountID id.AccountID, token id.SessionToken, deviceInfo string, now time.Time) (*models.Row, error)
	Delete(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error)
	DeleteByID(ctx context.Context, accountID id.AccountID, rowID id.RowID) (*models.Row, error)
	DeleteAll(ctx context.Context, accountID id.AccountID) ([]*models.Row, error)
	ListByAccount(ctx context.Context, accountID id.AccountID) ([]*models.Row, error)
	DeleteStale(ctx context.Context, cutoff time.Time) ([]*models.Row, error)
}

// StoreContractSuite runs the same behaviour checks against every store.
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) ledgerStore
	store    ledgerStore
	ctx      context.Context
	account  id.AccountID
	base     time.Time
}

func TestInMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) ledgerStore { return NewInMemory() }})
}

func TestRedisStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) ledgerStore {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedis(client)
	}})
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
	s.account = id.NewAccountID()
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreContractSuite) insert(account id.AccountID, token string, lastActive time.Time) *models.Row {
	row := testutil.NewRow(account).WithToken(token).WithLastActive(lastActive).Build()
	s.Require().NoError(s.store.Insert(s.ctx, row))
	return row
}

func (s *StoreContractSuite) TestFindMissingIsNotFound() {
	_, err := s.store.Find(s.ctx, s.account, "nope")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *StoreContractSuite) TestInsertThenFind() {
	row := s.insert(s.account, "tab-a", s.base)

	got, err := s.store.Find(s.ctx, s.account, "tab-a")
	s.Require().NoError(err)
	s.Equal(row.ID, got.ID)
	s.Equal(row.DeviceInfo, got.DeviceInfo)
	s.True(row.LastActive.Equal(got.LastActive))
}

func (s *StoreContractSuite) TestInsertDuplicatePairConflicts() {
	s.insert(s.account, "tab-a", s.base)
	dup := testutil.NewRow(s.account).WithToken("tab-a").Build()
	err := s.store.Insert(s.ctx, dup)
	s.True(errors.Is(err, sentinel.ErrConflict))
}

func (s *StoreContractSuite) TestSameTokenDifferentAccountsAreDistinct() {
	other := id.NewAccountID()
	s.insert(s.account, "tab-a", s.base)
	s.insert(other, "tab-a", s.base)

	_, err := s.store.Delete(s.ctx, s.account, "tab-a")
	s.Require().NoError(err)
	_, err = s.store.Find(s.ctx, other, "tab-a")
	s.NoError(err)
}

func (s *StoreContractSuite) TestTouchKeepsDeviceWhenEmpty() {
	s.insert(s.account, "tab-a", s.base)
	later := s.base.Add(time.Minute)

	got, err := s.store.Touch(s.ctx, s.account, "tab-a", "", later)
	s.Require().NoError(err)
	s.True(later.Equal(got.LastActive))
	s.Equal("Chrome on macOS", got.DeviceInfo)

	got, err = s.store.Touch(s.ctx, s.account, "tab-a", "Firefox on Linux", later)
	s.Require().NoError(err)
	s.Equal("Firefox on Linux", got.DeviceInfo)
}

func (s *StoreContractSuite) TestTouchNeverResurrects() {
	s.insert(s.account, "tab-a", s.base)
	_, err := s.store.Delete(s.ctx, s.account, "tab-a")
	s.Require().NoError(err)

	_, err = s.store.Touch(s.ctx, s.account, "tab-a", "", s.base)
	s.True(errors.Is(err, sentinel.ErrNotFound))
	_, err = s.store.Find(s.ctx, s.account, "tab-a")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *StoreContractSuite) TestDeleteReturnsRowOnce() {
	row := s.insert(s.account, "tab-a", s.base)

	deleted, err := s.store.Delete(s.ctx, s.account, "tab-a")
	s.Require().NoError(err)
	s.Equal(row.ID, deleted.ID)

	_, err = s.store.Delete(s.ctx, s.account, "tab-a")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *StoreContractSuite) TestDeleteByIDScopedToAccount() {
	row := s.insert(s.account, "tab-a", s.base)

	_, err := s.store.DeleteByID(s.ctx, id.NewAccountID(), row.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))

	deleted, err := s.store.DeleteByID(s.ctx, s.account, row.ID)
	s.Require().NoError(err)
	s.Equal(id.SessionToken("tab-a"), deleted.SessionToken)
}

func (s *StoreContractSuite) TestDeleteAllOnlyTouchesAccount() {
	other := id.NewAccountID()
	s.insert(s.account, "tab-a", s.base)
	s.insert(s.account, "tab-b", s.base)
	s.insert(s.account, "tab-c", s.base)
	s.insert(other, "tab-z", s.base)

	removed, err := s.store.DeleteAll(s.ctx, s.account)
	s.Require().NoError(err)
	s.Len(removed, 3)

	rows, err := s.store.ListByAccount(s.ctx, s.account)
	s.Require().NoError(err)
	s.Empty(rows)

	rows, err = s.store.ListByAccount(s.ctx, other)
	s.Require().NoError(err)
	s.Len(rows, 1)
}

func (s *StoreContractSuite) TestDeleteAllWithNoRows() {
	removed, err := s.store.DeleteAll(s.ctx, s.account)
	s.Require().NoError(err)
	s.Empty(removed)
}

func (s *StoreContractSuite) TestListMostRecentFirst() {
	s.insert(s.account, "old", s.base)
	s.insert(s.account, "new", s.base.Add(2*time.Minute))
	s.insert(s.account, "mid", s.base.Add(time.Minute))

	rows, err := s.store.ListByAccount(s.ctx, s.account)
	s.Require().NoError(err)
	s.Require().Len(rows, 3)
	s.Equal(id.SessionToken("new"), rows[0].SessionToken)
	s.Equal(id.SessionToken("mid"), rows[1].SessionToken)
	s.Equal(id.SessionToken("old"), rows[2].SessionToken)
}

func (s *StoreContractSuite) TestDeleteStaleRemovesOnlyIdleRows() {
	s.insert(s.account, "idle", s.base.Add(-25*time.Hour))
	s.insert(s.account, "live", s.base)

	removed, err := s.store.DeleteStale(s.ctx, s.base.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(removed, 1)
	s.Equal(id.SessionToken("idle"), removed[0].SessionToken)

	rows, err := s.store.ListByAccount(s.ctx, s.account)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(id.SessionToken("live"), rows[0].SessionToken)
}

func (s *StoreContractSuite) TestConcurrentInsertOfSamePairHasOneWinner() {
	result := testutil.RunConcurrent(8, func(int) error {
		return s.store.Insert(s.ctx, testutil.NewRow(s.account).WithToken("tab-a").Build())
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(7), result.Conflicts)
}
