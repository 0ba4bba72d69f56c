package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"acsadmin/internal/auth/models"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	"acsadmin/pkg/platform/audit"
)

func (s *ServiceSuite) TestSignup() {
	ctx := context.Background()

	s.Run("creates a pending account with a bcrypt hash", func() {
		var saved *models.Account
		s.mockAccounts.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, a *models.Account) error {
				saved = a
				return nil
			})

		account, err := s.service.Signup(ctx, &models.SignupRequest{
			FullName: "Ana Souza", Email: "Ana@Example.com", Password: "correct-horse",
		})
		s.Require().NoError(err)
		s.Equal(models.AccountStatusPending, account.Status)
		s.Empty(account.Code)
		s.Equal("ana@example.com", saved.Email)
		s.NoError(bcrypt.CompareHashAndPassword([]byte(saved.PasswordHash), []byte("correct-horse")))
		s.Contains(s.auditStore.Actions(), audit.ActionAccountCreated)

		token, ok := s.outbox.Token("ana@example.com")
		s.Require().True(ok, "signup mails a verification token")
		s.Equal(hashVerificationToken(token), saved.VerificationHash)
		s.NotContains(saved.VerificationHash, token, "only the hash is stored")
		s.Require().NotNil(saved.VerificationExpiresAt)
		s.Equal(s.now.Add(defaultVerificationTTL), *saved.VerificationExpiresAt)
		s.Contains(s.auditStore.Actions(), audit.ActionVerificationSent)
	})

	s.Run("duplicate email is a conflict", func() {
		s.mockAccounts.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("email already registered: %w", sentinel.ErrConflict))

		_, err := s.service.Signup(ctx, &models.SignupRequest{FullName: "Ana", Email: "ana@example.com", Password: "correct-horse"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestActivate() {
	ctx := context.Background()

	s.Run("assigns a code when the mailed token matches", func() {
		pending := s.awaitingToken(s.newTestAccount(models.AccountStatusPending, "pw-123456"), "tok-ok")
		active := *pending
		active.Status = models.AccountStatusActive
		active.Code = "ACS-08"

		s.mockAccounts.EXPECT().FindByID(gomock.Any(), pending.ID).Return(pending, nil)
		s.mockAccounts.EXPECT().Activate(gomock.Any(), pending.ID, s.now).Return(&active, nil)

		got, err := s.service.Activate(ctx, pending.ID, "tok-ok")
		s.Require().NoError(err)
		s.Equal("ACS-08", got.Code.String())
	})

	s.Run("the account ID alone is not enough", func() {
		pending := s.awaitingToken(s.newTestAccount(models.AccountStatusPending, "pw-123456"), "tok-ok")

		_, err := s.service.Activate(ctx, pending.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("a wrong token is rejected and audited", func() {
		pending := s.awaitingToken(s.newTestAccount(models.AccountStatusPending, "pw-123456"), "tok-ok")
		s.mockAccounts.EXPECT().FindByID(gomock.Any(), pending.ID).Return(pending, nil)

		_, err := s.service.Activate(ctx, pending.ID, "tok-guess")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Contains(s.auditStore.Actions(), audit.ActionActivationRejected)
	})

	s.Run("an expired token is rejected", func() {
		pending := s.awaitingToken(s.newTestAccount(models.AccountStatusPending, "pw-123456"), "tok-ok")
		expired := s.now.Add(-time.Second)
		pending.VerificationExpiresAt = &expired
		s.mockAccounts.EXPECT().FindByID(gomock.Any(), pending.ID).Return(pending, nil)

		_, err := s.service.Activate(ctx, pending.ID, "tok-ok")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("an active account has no outstanding token", func() {
		active := s.newTestAccount(models.AccountStatusActive, "pw-123456")
		s.mockAccounts.EXPECT().FindByID(gomock.Any(), active.ID).Return(active, nil)

		_, err := s.service.Activate(ctx, active.ID, "tok-ok")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unknown account looks like a bad token", func() {
		pending := s.newTestAccount(models.AccountStatusPending, "pw-123456")
		s.mockAccounts.EXPECT().FindByID(gomock.Any(), pending.ID).
			Return(nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound))

		_, err := s.service.Activate(ctx, pending.ID, "tok-ok")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestResendVerification() {
	ctx := context.Background()

	s.Run("pending account gets a fresh token", func() {
		pending := s.newTestAccount(models.AccountStatusPending, "pw-123456")
		var storedHash string
		s.mockAccounts.EXPECT().FindByEmail(gomock.Any(), "ana@example.com").Return(pending, nil)
		s.mockAccounts.EXPECT().SetVerification(gomock.Any(), pending.ID, gomock.Any(), s.now.Add(defaultVerificationTTL)).
			DoAndReturn(func(_ context.Context, _ id.AccountID, hash string, _ time.Time) error {
				storedHash = hash
				return nil
			})

		s.Require().NoError(s.service.ResendVerification(ctx, "Ana@Example.com"))
		token, ok := s.outbox.Token("ana@example.com")
		s.Require().True(ok)
		s.Equal(hashVerificationToken(token), storedHash)
	})

	s.Run("unknown and active addresses are silent", func() {
		active := s.newTestAccount(models.AccountStatusActive, "pw-123456")
		s.mockAccounts.EXPECT().FindByEmail(gomock.Any(), "ghost@example.com").
			Return(nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound))
		s.mockAccounts.EXPECT().FindByEmail(gomock.Any(), "ana@example.com").Return(active, nil)

		sent := len(s.outbox.Sent())
		s.NoError(s.service.ResendVerification(ctx, "ghost@example.com"))
		s.NoError(s.service.ResendVerification(ctx, "ana@example.com"))
		s.Len(s.outbox.Sent(), sent)
	})
}

func (s *ServiceSuite) TestSignIn() {
	ctx := context.Background()

	s.Run("by account code", func() {
		account := s.newTestAccount(models.AccountStatusActive, "pw-123456")
		s.mockAccounts.EXPECT().FindByCode(gomock.Any(), account.Code).Return(account, nil)
		s.mockTokens.EXPECT().Issue(account.ID, account.Code, account.TokenEpoch, s.now).
			Return("bearer-1", s.now.Add(time.Hour), nil)

		res, err := s.service.SignIn(ctx, "ACS-07", "pw-123456")
		s.Require().NoError(err)
		s.Equal("bearer-1", res.AccessToken)
		s.Equal("Bearer", res.TokenType)
		s.Equal(account.ID, res.Account.ID)
	})

	s.Run("by email is case-insensitive", func() {
		account := s.newTestAccount(models.AccountStatusActive, "pw-123456")
		s.mockAccounts.EXPECT().FindByEmail(gomock.Any(), "ana@example.com").Return(account, nil)
		s.mockTokens.EXPECT().Issue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return("bearer-2", s.now.Add(time.Hour), nil)

		_, err := s.service.SignIn(ctx, "ANA@example.com", "pw-123456")
		s.Require().NoError(err)
	})

	s.Run("unknown account and wrong password are indistinguishable", func() {
		account := s.newTestAccount(models.AccountStatusActive, "pw-123456")
		s.mockAccounts.EXPECT().FindByEmail(gomock.Any(), "ghost@example.com").
			Return(nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound))
		s.mockAccounts.EXPECT().FindByEmail(gomock.Any(), "ana@example.com").Return(account, nil)

		_, unknownErr := s.service.SignIn(ctx, "ghost@example.com", "pw-123456")
		_, wrongErr := s.service.SignIn(ctx, "ana@example.com", "nope")

		s.True(dErrors.HasCode(unknownErr, dErrors.CodeUnauthorized))
		s.True(dErrors.HasCode(wrongErr, dErrors.CodeUnauthorized))
		s.Equal(unknownErr.Error(), wrongErr.Error())
	})

	s.Run("pending account with correct password is forbidden", func() {
		account := s.newTestAccount(models.AccountStatusPending, "pw-123456")
		s.mockAccounts.EXPECT().FindByEmail(gomock.Any(), "ana@example.com").Return(account, nil)

		_, err := s.service.SignIn(ctx, "ana@example.com", "pw-123456")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.EqualError(err, "account is not active")
	})

	s.Run("store outage is not reported as bad credentials", func() {
		s.mockAccounts.EXPECT().FindByEmail(gomock.Any(), "ana@example.com").
			Return(nil, fmt.Errorf("dial tcp: %w", sentinel.ErrUnavailable))

		_, err := s.service.SignIn(ctx, "ana@example.com", "pw-123456")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
