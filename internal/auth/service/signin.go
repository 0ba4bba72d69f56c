package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"acsadmin/internal/auth/models"
	"acsadmin/internal/platform/middleware"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	"acsadmin/pkg/platform/audit"
)

const msgInvalidCredentials = "invalid credentials"

// SignIn verifies an identifier (email or ACS-NN code) and password and issues
// a bearer token. An unknown account and a wrong password produce the same
// error so identifiers cannot be enumerated. A correct password on a pending
// account is reported as forbidden.
// Repeated failures from one client IP lock the identifier there for a while.
func (s *Service) SignIn(ctx context.Context, identifier, password string) (*models.SignInResult, error) {
	ip := middleware.GetClientIP(ctx)
	if s.limiter != nil {
		if err := s.limiter.Check(ctx, identifier, ip); err != nil {
			if dErrors.HasCode(err, dErrors.CodeRateLimited) {
				s.audit.Record(ctx, audit.Event{Action: audit.ActionSignInLocked, Subject: identifier, Reason: ip})
				if s.metrics != nil {
					s.metrics.ObserveSignIn("locked")
				}
			}
			return nil, err
		}
	}

	account, err := s.resolve(ctx, identifier)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password)) //nolint:errcheck // timing only
		s.signInFailed(ctx, id.AccountID{}, identifier, "unknown_account")
		s.countFailure(ctx, identifier, ip)
		return nil, dErrors.New(dErrors.CodeUnauthorized, msgInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		s.signInFailed(ctx, account.ID, identifier, "wrong_password")
		s.countFailure(ctx, identifier, ip)
		return nil, dErrors.New(dErrors.CodeUnauthorized, msgInvalidCredentials)
	}
	if s.limiter != nil {
		if err := s.limiter.Clear(ctx, identifier, ip); err != nil {
			s.logger.WarnContext(ctx, "failed to clear sign-in failures", "error", err)
		}
	}

	if !account.IsActive() {
		s.signInFailed(ctx, account.ID, identifier, "inactive")
		if s.metrics != nil {
			s.metrics.ObserveSignIn("inactive")
		}
		return nil, dErrors.New(dErrors.CodeForbidden, "account is not active")
	}

	token, expiresAt, err := s.tokens.Issue(account.ID, account.Code, account.TokenEpoch, s.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}

	s.audit.Record(ctx, audit.Event{AccountID: account.ID, Action: audit.ActionSignInSucceeded, Subject: identifier})
	if s.metrics != nil {
		s.metrics.ObserveSignIn("ok")
	}
	return &models.SignInResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		Account:     account.View(),
	}, nil
}

func (s *Service) resolve(ctx context.Context, identifier string) (*models.Account, error) {
	var (
		account *models.Account
		err     error
	)
	if code, _, parseErr := id.ParseAccountCode(identifier); parseErr == nil {
		account, err = s.accounts.FindByCode(ctx, code)
	} else {
		account, err = s.accounts.FindByEmail(ctx, models.NormalizeEmail(identifier))
	}
	if err != nil {
		return nil, translateFind(err)
	}
	return account, nil
}

func (s *Service) signInFailed(ctx context.Context, accountID id.AccountID, identifier, reason string) {
	s.audit.Record(ctx, audit.Event{
		AccountID: accountID,
		Action:    audit.ActionSignInFailed,
		Subject:   identifier,
		Reason:    reason,
	})
	if s.metrics != nil && reason != "inactive" {
		s.metrics.ObserveSignIn("invalid_credentials")
	}
}

// countFailure never fails the request; a broken lockout store only costs
// throttling.
func (s *Service) countFailure(ctx context.Context, identifier, ip string) {
	if s.limiter == nil {
		return
	}
	if _, err := s.limiter.RecordFailure(ctx, identifier, ip); err != nil {
		s.logger.WarnContext(ctx, "failed to record sign-in failure", "error", err)
	}
}

// GlobalSignOut invalidates every bearer token issued to the account.
func (s *Service) GlobalSignOut(ctx context.Context, accountID id.AccountID) error {
	if accountID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "account ID required")
	}
	epoch, err := s.accounts.BumpEpoch(ctx, accountID)
	if err != nil {
		return translateFind(err)
	}

	s.logger.InfoContext(ctx, "signed out everywhere",
		"account_id", accountID.String(),
		"epoch", epoch,
	)
	s.audit.Record(ctx, audit.Event{AccountID: accountID, Action: audit.ActionSignedOutEverywhere})
	if s.metrics != nil {
		s.metrics.IncrementGlobalSignOuts()
	}
	return nil
}

// Authenticate validates a bearer token and checks it predates no global sign-out.
func (s *Service) Authenticate(ctx context.Context, bearer string) (id.AccountID, error) {
	claims, err := s.tokens.Validate(bearer)
	if err != nil {
		return id.AccountID{}, err
	}
	accountID, err := id.ParseAccountID(claims.AccountID)
	if err != nil {
		return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
		}
		return id.AccountID{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "account lookup failed")
	}
	if claims.Epoch != account.TokenEpoch {
		return id.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "token signed out")
	}
	return accountID, nil
}
