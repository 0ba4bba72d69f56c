package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"acsadmin/internal/auth/models"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
)

const accountColumns = `id, COALESCE(admin_id, ''), full_name, email, phone, password_hash, status, token_epoch, created_at, activated_at,
	COALESCE(verification_hash, ''), verification_expires_at`

// PostgresStore persists accounts in the admins table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a *models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admins (id, full_name, email, phone, password_hash, status, token_epoch, created_at,
			verification_hash, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(a.ID), a.FullName, a.Email, a.Phone, a.PasswordHash, string(a.Status), a.TokenEpoch, a.CreatedAt,
		nullString(a.VerificationHash), a.VerificationExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email already registered: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM admins WHERE id = $1`, uuid.UUID(accountID))
	return scanAccount(row, "find account by id")
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM admins WHERE email = $1`, email)
	return scanAccount(row, "find account by email")
}

func (s *PostgresStore) FindByCode(ctx context.Context, code id.AccountCode) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM admins WHERE admin_id = $1`, code.String())
	return scanAccount(row, "find account by code")
}

// Activate locks the row, draws the next value of admin_code_seq, marks the
// account active and clears its verification hash in one transaction. Active accounts are returned as is,
// so the sequence is never advanced twice for the same account.
func (s *PostgresStore) Activate(ctx context.Context, accountID id.AccountID, now time.Time) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin activate tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	}()

	current, err := scanAccount(
		tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM admins WHERE id = $1 FOR UPDATE`, uuid.UUID(accountID)),
		"lock account",
	)
	if err != nil {
		return nil, err
	}
	if current.IsActive() {
		return current, tx.Commit()
	}

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT nextval('admin_code_seq')`).Scan(&n); err != nil {
		return nil, fmt.Errorf("next account code: %w", err)
	}
	code := id.FormatAccountCode(n)

	if _, err := tx.ExecContext(ctx,
		`UPDATE admins SET admin_id = $2, status = $3, activated_at = $4,
			verification_hash = NULL, verification_expires_at = NULL
		WHERE id = $1`,
		uuid.UUID(accountID), code.String(), string(models.AccountStatusActive), now,
	); err != nil {
		return nil, fmt.Errorf("activate account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit activate: %w", err)
	}

	current.Code = code
	current.Status = models.AccountStatusActive
	current.ActivatedAt = &now
	current.VerificationHash = ""
	current.VerificationExpiresAt = nil
	return current, nil
}

// SetVerification replaces the outstanding token hash of a pending account.
func (s *PostgresStore) SetVerification(ctx context.Context, accountID id.AccountID, hash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE admins SET verification_hash = $2, verification_expires_at = $3 WHERE id = $1 AND status = $4`,
		uuid.UUID(accountID), hash, expiresAt, string(models.AccountStatusPending),
	)
	if err != nil {
		return fmt.Errorf("set verification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set verification: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pending account not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) BumpEpoch(ctx context.Context, accountID id.AccountID) (int64, error) {
	var epoch int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE admins SET token_epoch = token_epoch + 1 WHERE id = $1 RETURNING token_epoch`,
		uuid.UUID(accountID),
	).Scan(&epoch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
		}
		return 0, fmt.Errorf("bump token epoch: %w", err)
	}
	return epoch, nil
}

func scanAccount(row *sql.Row, op string) (*models.Account, error) {
	var (
		a           models.Account
		rawID       uuid.UUID
		code        string
		status      string
		activatedAt sql.NullTime
		verifyBy    sql.NullTime
	)
	err := row.Scan(&rawID, &code, &a.FullName, &a.Email, &a.Phone, &a.PasswordHash, &status, &a.TokenEpoch, &a.CreatedAt, &activatedAt,
		&a.VerificationHash, &verifyBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.ID = id.AccountID(rawID)
	a.Code = id.AccountCode(code)
	a.Status = models.AccountStatus(status)
	if activatedAt.Valid {
		t := activatedAt.Time
		a.ActivatedAt = &t
	}
	if verifyBy.Valid {
		t := verifyBy.Time
		a.VerificationExpiresAt = &t
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
