package models

import (
	"strings"
	"time"

	id "acsadmin/pkg/domain"
)

type AccountStatus string

const (
	AccountStatusPending AccountStatus = "pending"
	AccountStatusActive  AccountStatus = "active"
)

// Account is an admin identity. Code stays empty until activation and is
// never reassigned afterwards.
type Account struct {
	ID           id.AccountID
	Code         id.AccountCode
	FullName     string
	Email        string
	Phone        string
	PasswordHash string
	Status       AccountStatus

	// TokenEpoch is bumped by a global sign-out; bearers issued under an
	// older epoch are rejected.
	TokenEpoch  int64
	CreatedAt   time.Time
	ActivatedAt *time.Time

	// VerificationHash is the SHA-256 of the outstanding activation token,
	// hex encoded. It is cleared when the account is activated.
	VerificationHash      string
	VerificationExpiresAt *time.Time
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// NormalizeEmail lower-cases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountView is the public projection of an Account.
type AccountView struct {
	ID       id.AccountID   `json:"id"`
	Code     id.AccountCode `json:"admin_id,omitempty"`
	FullName string         `json:"full_name"`
	Email    string         `json:"email"`
	Status   AccountStatus  `json:"status"`
}

func (a *Account) View() AccountView {
	return AccountView{
		ID:       a.ID,
		Code:     a.Code,
		FullName: a.FullName,
		Email:    a.Email,
		Status:   a.Status,
	}
}
