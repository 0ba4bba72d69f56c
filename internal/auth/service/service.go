package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"acsadmin/internal/auth/mailer"
	"acsadmin/internal/auth/metrics"
	"acsadmin/internal/auth/models"
	jwttoken "acsadmin/internal/jwt_token"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	"acsadmin/pkg/platform/audit"
)

// AccountStore defines the persistence interface for admin accounts.
// Error Contract: Find methods return sentinel.ErrNotFound when absent; Create
// returns sentinel.ErrConflict for a taken email.
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, accountID id.AccountID) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByCode(ctx context.Context, code id.AccountCode) (*models.Account, error)
	Activate(ctx context.Context, accountID id.AccountID, now time.Time) (*models.Account, error)
	SetVerification(ctx context.Context, accountID id.AccountID, hash string, expiresAt time.Time) error
	BumpEpoch(ctx context.Context, accountID id.AccountID) (int64, error)
}

// TokenIssuer is satisfied by *jwttoken.JWTService.
type TokenIssuer interface {
	Issue(accountID id.AccountID, code id.AccountCode, epoch int64, now time.Time) (string, time.Time, error)
	Validate(token string) (*jwttoken.AccessTokenClaims, error)
}

// SignInLimiter is satisfied by *lockout.Service.
type SignInLimiter interface {
	Check(ctx context.Context, identifier, ip string) error
	RecordFailure(ctx context.Context, identifier, ip string) (bool, error)
	Clear(ctx context.Context, identifier, ip string) error
}

// Mailer delivers activation tokens. Satisfied by the mailer package.
type Mailer interface {
	SendVerification(ctx context.Context, v mailer.Verification) error
}

type Service struct {
	accounts        AccountStore
	tokens          TokenIssuer
	limiter         SignInLimiter
	mailer          Mailer
	logger          *slog.Logger
	audit           *audit.Logger
	metrics         *metrics.Metrics
	bcryptCost      int
	verificationTTL time.Duration
	now             func() time.Time

	// dummyHash is compared against when the account does not exist so the
	// unknown-account path costs the same as a wrong password.
	dummyHash []byte
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Service) {
		s.audit = l
	}
}

// WithLockout throttles repeated sign-in failures per identifier and client IP.
func WithLockout(l SignInLimiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMailer sets where activation tokens are sent. Without it tokens are
// logged with the secret withheld.
func WithMailer(m Mailer) Option {
	return func(s *Service) {
		s.mailer = m
	}
}

// WithVerificationTTL bounds how long an activation token stays usable.
func WithVerificationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.verificationTTL = ttl
		}
	}
}

// WithBcryptCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(accounts AccountStore, tokens TokenIssuer, opts ...Option) (*Service, error) {
	svc := &Service{
		accounts:        accounts,
		tokens:          tokens,
		bcryptCost:      bcrypt.DefaultCost,
		verificationTTL: defaultVerificationTTL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.mailer == nil {
		svc.mailer = mailer.NewLogMailer(svc.logger, "", false)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("acs-dummy-password"), svc.bcryptCost)
	if err != nil {
		return nil, err
	}
	svc.dummyHash = dummy
	return svc, nil
}

// Signup creates a pending account and mails it a single-use activation
// token. The request must already be normalized.
func (s *Service) Signup(ctx context.Context, req *models.SignupRequest) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "password cannot be hashed")
	}
	token, tokenHash, err := newVerificationToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification token")
	}
	expires := s.now().Add(s.verificationTTL)

	account := &models.Account{
		ID:           id.NewAccountID(),
		FullName:     req.FullName,
		Email:        models.NormalizeEmail(req.Email),
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Status:       models.AccountStatusPending,
		CreatedAt:    s.now(),

		VerificationHash:      tokenHash,
		VerificationExpiresAt: &expires,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
	}

	s.audit.Record(ctx, audit.Event{AccountID: account.ID, Action: audit.ActionAccountCreated, Subject: account.Email})
	if s.metrics != nil {
		s.metrics.IncrementAccountsCreated()
	}
	// The account exists either way; a lost email is recovered through
	// ResendVerification.
	if err := s.deliver(ctx, account, token, expires); err != nil {
		s.logger.ErrorContext(ctx, "verification email not sent", "account_id", account.ID.String(), "error", err)
	}
	return account, nil
}

// Activate moves a pending account to active and assigns its ACS-NN code. The
// token must be the one last mailed to the account; it works once.
func (s *Service) Activate(ctx context.Context, accountID id.AccountID, token string) (*models.Account, error) {
	if accountID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "account ID required")
	}
	if token == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "verification token required")
	}
	before, err := s.accounts.FindByID(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, errInvalidVerification
	}
	if err != nil {
		return nil, translateFind(err)
	}
	if !verificationMatches(before, token, s.now()) {
		s.audit.Record(ctx, audit.Event{AccountID: before.ID, Action: audit.ActionActivationRejected, Subject: before.Email})
		return nil, errInvalidVerification
	}

	account, err := s.accounts.Activate(ctx, accountID, s.now())
	if err != nil {
		return nil, translateFind(err)
	}

	s.audit.Record(ctx, audit.Event{AccountID: account.ID, Action: audit.ActionAccountActivated, Subject: account.Code.String()})
	if s.metrics != nil {
		s.metrics.IncrementAccountsActivated()
	}
	return account, nil
}

func (s *Service) Account(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, translateFind(err)
	}
	return account, nil
}

func translateFind(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "account lookup failed")
}
