// Package seeder populates a development backend with demo admins and a few
// rows on devices no tab owns, so the sessions list has something to show.
package seeder

import (
	"context"
	"fmt"
	"log/slog"

	authModels "acsadmin/internal/auth/models"
	ledgerModels "acsadmin/internal/ledger/models"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
)

// Accounts is satisfied by the auth service. Seeded admins are activated with
// a token issued in process rather than one read back from the mail.
type Accounts interface {
	Signup(ctx context.Context, req *authModels.SignupRequest) (*authModels.Account, error)
	IssueVerification(ctx context.Context, accountID id.AccountID) (string, error)
	Activate(ctx context.Context, accountID id.AccountID, token string) (*authModels.Account, error)
}

// Rows is satisfied by the ledger service.
type Rows interface {
	Insert(ctx context.Context, accountID id.AccountID, req *ledgerModels.InsertRequest, ipAddress string) (*ledgerModels.Row, error)
}

// Admin is one demo account. Pending admins are created but never activated.
type Admin struct {
	FullName string
	Email    string
	Pending  bool
	Devices  []string
}

var DemoAdmins = []Admin{
	{FullName: "Alice Anderson", Email: "alice@example.com", Devices: []string{"Chrome 120 on macOS", "Safari 17 on iOS (mobile)"}},
	{FullName: "Bruno Braga", Email: "bruno@example.com", Devices: []string{"Firefox 121 on Windows"}},
	{FullName: "Carla Chen", Email: "carla@example.com"},
	{FullName: "Diego Dias", Email: "diego@example.com", Pending: true},
}

type Seeder struct {
	accounts Accounts
	rows     Rows
	password string
	logger   *slog.Logger
}

func New(accounts Accounts, rows Rows, password string, logger *slog.Logger) *Seeder {
	return &Seeder{
		accounts: accounts,
		rows:     rows,
		password: password,
		logger:   logger,
	}
}

// SeedAll is safe to run against a backend that was seeded before: admins
// whose email is taken are skipped.
func (s *Seeder) SeedAll(ctx context.Context, admins []Admin) (int, error) {
	s.logger.InfoContext(ctx, "seeding demo admins")

	seeded := 0
	for _, a := range admins {
		ok, err := s.seedAdmin(ctx, a)
		if err != nil {
			return seeded, fmt.Errorf("failed to seed %s: %w", a.Email, err)
		}
		if ok {
			seeded++
		}
	}

	s.logger.InfoContext(ctx, "demo admins seeded", "admins", seeded)
	return seeded, nil
}

func (s *Seeder) seedAdmin(ctx context.Context, a Admin) (bool, error) {
	account, err := s.accounts.Signup(ctx, &authModels.SignupRequest{
		FullName: a.FullName,
		Email:    a.Email,
		Password: s.password,
	})
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if a.Pending {
		return true, nil
	}
	token, err := s.accounts.IssueVerification(ctx, account.ID)
	if err != nil {
		return false, err
	}
	account, err = s.accounts.Activate(ctx, account.ID, token)
	if err != nil {
		return false, err
	}

	for _, device := range a.Devices {
		_, err := s.rows.Insert(ctx, account.ID, &ledgerModels.InsertRequest{
			SessionToken: id.NewSessionToken().String(),
			DeviceInfo:   device,
		}, "")
		if err != nil {
			return false, err
		}
	}
	s.logger.DebugContext(ctx, "seeded admin",
		"code", account.Code.String(),
		"email", account.Email,
		"devices", len(a.Devices),
	)
	return true, nil
}
