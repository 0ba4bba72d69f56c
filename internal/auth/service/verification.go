package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"acsadmin/internal/auth/mailer"
	"acsadmin/internal/auth/models"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	"acsadmin/pkg/platform/audit"
)

const defaultVerificationTTL = 48 * time.Hour

var errInvalidVerification = dErrors.New(dErrors.CodeUnauthorized, "verification token is invalid or expired")

// IssueVerification replaces the account's activation token and returns the
// new plaintext. Earlier tokens stop working. Active accounts get a conflict.
func (s *Service) IssueVerification(ctx context.Context, accountID id.AccountID) (string, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", translateFind(err)
	}
	if account.IsActive() {
		return "", dErrors.New(dErrors.CodeConflict, "account already active")
	}
	token, _, err := s.reissue(ctx, account)
	return token, err
}

// ResendVerification mails a fresh token to a pending account. Unknown and
// active addresses succeed silently so the endpoint cannot be used to probe
// for accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	account, err := s.accounts.FindByEmail(ctx, models.NormalizeEmail(email))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return translateFind(err)
	}
	if account.IsActive() {
		return nil
	}
	token, expires, err := s.reissue(ctx, account)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, account, token, expires); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to send verification email")
	}
	return nil
}

func (s *Service) reissue(ctx context.Context, account *models.Account) (string, time.Time, error) {
	token, hash, err := newVerificationToken()
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification token")
	}
	expires := s.now().Add(s.verificationTTL)
	if err := s.accounts.SetVerification(ctx, account.ID, hash, expires); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", time.Time{}, dErrors.New(dErrors.CodeConflict, "account already active")
		}
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification token")
	}
	return token, expires, nil
}

func (s *Service) deliver(ctx context.Context, account *models.Account, token string, expires time.Time) error {
	err := s.mailer.SendVerification(ctx, mailer.Verification{
		AccountID: account.ID.String(),
		Email:     account.Email,
		FullName:  account.FullName,
		Token:     token,
		ExpiresAt: expires,
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{AccountID: account.ID, Action: audit.ActionVerificationSent, Subject: account.Email})
	return nil
}

// newVerificationToken returns 32 random bytes, base64url encoded, and the hex
// SHA-256 of that encoding.
func newVerificationToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, hashVerificationToken(token), nil
}

func hashVerificationToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func verificationMatches(a *models.Account, token string, now time.Time) bool {
	if a.VerificationHash == "" || a.VerificationExpiresAt == nil || !now.Before(*a.VerificationExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hashVerificationToken(token)), []byte(a.VerificationHash)) == 1
}
