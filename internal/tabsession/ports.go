package tabsession

import (
	"context"
	"time"

	authModels "acsadmin/internal/auth/models"
	"acsadmin/internal/directory"
	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
)

// Credential is the bearer a tab holds after signing in. It lives only in the
// tab's own store.
type Credential struct {
	AccessToken string         `json:"access_token"`
	ExpiresAt   time.Time      `json:"expires_at"`
	AccountID   id.AccountID   `json:"account_id"`
	Code        id.AccountCode `json:"admin_id"`
	FullName    string         `json:"full_name"`
	Email       string         `json:"email"`
}

func credentialFrom(res *authModels.SignInResult) *Credential {
	return &Credential{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		AccountID:   res.Account.ID,
		Code:        res.Account.Code,
		FullName:    res.Account.FullName,
		Email:       res.Account.Email,
	}
}

func (c *Credential) account() directory.Account {
	return directory.Account{ID: c.AccountID, Code: c.Code, FullName: c.FullName, Email: c.Email}
}

// Client describes the device a row is registered from.
type Client struct {
	DeviceInfo string
	IPAddress  string
	UserAgent  string
}

type Auth interface {
	SignIn(ctx context.Context, identifier, password string) (*Credential, error)
	// GlobalSignOut invalidates every bearer of the credential's account.
	GlobalSignOut(ctx context.Context, cred *Credential) error
}

// Ledger is the tab's view of the active sessions table. Lookup returns
// nil without error when there is no row.
type Ledger interface {
	Lookup(ctx context.Context, cred *Credential, token id.SessionToken) (*models.Row, error)
	Insert(ctx context.Context, cred *Credential, token id.SessionToken, client Client) error
	Touch(ctx context.Context, cred *Credential, token id.SessionToken, deviceInfo string) error
	Delete(ctx context.Context, cred *Credential, token id.SessionToken) error
	DeleteAll(ctx context.Context, cred *Credential) error
}

// Feed streams deletions of one token's row.
type Feed interface {
	Watch(ctx context.Context, cred *Credential, token id.SessionToken) (feed.Subscription, error)
}

// Backend is everything a tab talks to.
type Backend interface {
	Auth
	Ledger
	Feed
}

// Screen is where a tab shows notices and navigates.
type Screen interface {
	Notify(title, message string)
	Navigate(path string)
}

var (
	_ Backend = (*Local)(nil)
	_ Backend = (*Remote)(nil)
)
