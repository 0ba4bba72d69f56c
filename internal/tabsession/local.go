package tabsession

import (
	"context"

	authModels "acsadmin/internal/auth/models"
	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
)

// AuthService is the subset of the auth service a Local backend calls.
type AuthService interface {
	SignIn(ctx context.Context, identifier, password string) (*authModels.SignInResult, error)
	GlobalSignOut(ctx context.Context, accountID id.AccountID) error
	Authenticate(ctx context.Context, bearer string) (id.AccountID, error)
}

// LedgerService is the subset of the ledger service a Local backend calls.
type LedgerService interface {
	Lookup(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error)
	Insert(ctx context.Context, accountID id.AccountID, req *models.InsertRequest, ipAddress string) (*models.Row, error)
	Touch(ctx context.Context, accountID id.AccountID, token id.SessionToken, req *models.TouchRequest) (*models.Row, error)
	Delete(ctx context.Context, accountID id.AccountID, token id.SessionToken) (models.DeleteResult, error)
	DeleteAll(ctx context.Context, accountID id.AccountID) (models.DeleteResult, error)
}

// Local calls the services in-process. Every call authenticates the bearer
// first, exactly as the HTTP API does.
type Local struct {
	auth       AuthService
	ledger     LedgerService
	subscriber feed.Subscriber
}

func NewLocal(auth AuthService, ledger LedgerService, subscriber feed.Subscriber) *Local {
	return &Local{auth: auth, ledger: ledger, subscriber: subscriber}
}

func (l *Local) SignIn(ctx context.Context, identifier, password string) (*Credential, error) {
	res, err := l.auth.SignIn(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	return credentialFrom(res), nil
}

func (l *Local) GlobalSignOut(ctx context.Context, cred *Credential) error {
	accountID, err := l.authenticate(ctx, cred)
	if err != nil {
		return err
	}
	return l.auth.GlobalSignOut(ctx, accountID)
}

func (l *Local) Lookup(ctx context.Context, cred *Credential, token id.SessionToken) (*models.Row, error) {
	accountID, err := l.authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	return l.ledger.Lookup(ctx, accountID, token)
}

func (l *Local) Insert(ctx context.Context, cred *Credential, token id.SessionToken, client Client) error {
	accountID, err := l.authenticate(ctx, cred)
	if err != nil {
		return err
	}
	req := &models.InsertRequest{SessionToken: token.String(), DeviceInfo: client.DeviceInfo}
	req.Normalize()
	_, err = l.ledger.Insert(ctx, accountID, req, client.IPAddress)
	return err
}

func (l *Local) Touch(ctx context.Context, cred *Credential, token id.SessionToken, deviceInfo string) error {
	accountID, err := l.authenticate(ctx, cred)
	if err != nil {
		return err
	}
	_, err = l.ledger.Touch(ctx, accountID, token, &models.TouchRequest{DeviceInfo: deviceInfo})
	return err
}

func (l *Local) Delete(ctx context.Context, cred *Credential, token id.SessionToken) error {
	accountID, err := l.authenticate(ctx, cred)
	if err != nil {
		return err
	}
	_, err = l.ledger.Delete(ctx, accountID, token)
	return err
}

func (l *Local) DeleteAll(ctx context.Context, cred *Credential) error {
	accountID, err := l.authenticate(ctx, cred)
	if err != nil {
		return err
	}
	_, err = l.ledger.DeleteAll(ctx, accountID)
	return err
}

// Watch subscribes before checking the row exists, so a deletion between
// the two is still delivered.
func (l *Local) Watch(ctx context.Context, cred *Credential, token id.SessionToken) (feed.Subscription, error) {
	accountID, err := l.authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	sub, err := l.subscriber.Subscribe(ctx, token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "realtime feed unavailable")
	}
	row, err := l.ledger.Lookup(ctx, accountID, token)
	if err != nil {
		sub.Close()
		return nil, err
	}
	if row == nil {
		sub.Close()
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	return sub, nil
}

func (l *Local) authenticate(ctx context.Context, cred *Credential) (id.AccountID, error) {
	if cred == nil {
		return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "not signed in")
	}
	return l.auth.Authenticate(ctx, cred.AccessToken)
}
