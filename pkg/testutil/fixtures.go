package testutil

import (
	"time"

	"github.com/google/uuid"

	authmodels "acsadmin/internal/auth/models"
	ledgermodels "acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
)

// TestIDs provides fixed IDs for deterministic test data.
var TestIDs = struct {
	AccountID1 id.AccountID
	AccountID2 id.AccountID
	RowID1     id.RowID
	RowID2     id.RowID
}{
	AccountID1: id.AccountID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	AccountID2: id.AccountID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	RowID1:     id.RowID(uuid.MustParse("eeee0000-0000-0000-0000-000000000001")),
	RowID2:     id.RowID(uuid.MustParse("eeee0000-0000-0000-0000-000000000002")),
}

// AccountBuilder provides a fluent interface for building test accounts.
type AccountBuilder struct {
	account *authmodels.Account
}

// NewAccountBuilder starts from an active ACS-07 account.
func NewAccountBuilder() *AccountBuilder {
	now := time.Now()
	return &AccountBuilder{
		account: &authmodels.Account{
			ID:          id.NewAccountID(),
			Code:        "ACS-07",
			FullName:    "Test Admin",
			Email:       "admin@example.com",
			Status:      authmodels.AccountStatusActive,
			CreatedAt:   now,
			ActivatedAt: &now,
		},
	}
}

func (b *AccountBuilder) WithID(accountID id.AccountID) *AccountBuilder {
	b.account.ID = accountID
	return b
}

func (b *AccountBuilder) WithCode(code id.AccountCode) *AccountBuilder {
	b.account.Code = code
	return b
}

func (b *AccountBuilder) WithEmail(email string) *AccountBuilder {
	b.account.Email = email
	return b
}

func (b *AccountBuilder) WithName(fullName string) *AccountBuilder {
	b.account.FullName = fullName
	return b
}

func (b *AccountBuilder) Pending() *AccountBuilder {
	b.account.Code = ""
	b.account.Status = authmodels.AccountStatusPending
	b.account.ActivatedAt = nil
	return b
}

func (b *AccountBuilder) Build() *authmodels.Account {
	return b.account
}

// RowBuilder provides a fluent interface for building ledger rows.
type RowBuilder struct {
	row *ledgermodels.Row
}

// NewRow starts a row for the account with a fresh token and a Chrome on macOS descriptor.
func NewRow(accountID id.AccountID) *RowBuilder {
	now := time.Now()
	return &RowBuilder{
		row: &ledgermodels.Row{
			ID:           id.NewRowID(),
			AccountID:    accountID,
			SessionToken: id.NewSessionToken(),
			DeviceInfo:   "Chrome on macOS",
			IPAddress:    "203.0.113.7",
			LastActive:   now,
			CreatedAt:    now,
		},
	}
}

func (b *RowBuilder) WithID(rowID id.RowID) *RowBuilder {
	b.row.ID = rowID
	return b
}

func (b *RowBuilder) WithToken(token string) *RowBuilder {
	b.row.SessionToken = id.SessionToken(token)
	return b
}

func (b *RowBuilder) WithDevice(deviceInfo string) *RowBuilder {
	b.row.DeviceInfo = deviceInfo
	return b
}

// WithLastActive also moves CreatedAt so the row is internally consistent.
func (b *RowBuilder) WithLastActive(t time.Time) *RowBuilder {
	b.row.LastActive = t
	b.row.CreatedAt = t
	return b
}

func (b *RowBuilder) Build() *ledgermodels.Row {
	return b.row
}
