package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"acsadmin/internal/ledger/models"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
)

const rowColumns = `id, admin_id, session_token, device_info, ip_address, last_active, created_at`

// PostgresStore persists ledger rows in active_sessions. The
// (admin_id, session_token) unique constraint backs the one-row-per-tab rule.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM active_sessions WHERE admin_id = $1 AND session_token = $2`,
		uuid.UUID(accountID), token.String(),
	)
	return scanRow(row, "find session row")
}

func (s *PostgresStore) Insert(ctx context.Context, r *models.Row) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_sessions (id, admin_id, session_token, device_info, ip_address, last_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(r.ID), uuid.UUID(r.AccountID), r.SessionToken.String(), r.DeviceInfo, r.IPAddress, r.LastActive, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session row exists: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert session row: %w", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, accountID id.AccountID, token id.SessionToken, deviceInfo string, now time.Time) (*models.Row, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE active_sessions
		SET last_active = $3, device_info = COALESCE(NULLIF($4, ''), device_info)
		WHERE admin_id = $1 AND session_token = $2
		RETURNING `+rowColumns,
		uuid.UUID(accountID), token.String(), now, deviceInfo,
	)
	return scanRow(row, "touch session row")
}

func (s *PostgresStore) Delete(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM active_sessions WHERE admin_id = $1 AND session_token = $2 RETURNING `+rowColumns,
		uuid.UUID(accountID), token.String(),
	)
	return scanRow(row, "delete session row")
}

func (s *PostgresStore) DeleteByID(ctx context.Context, accountID id.AccountID, rowID id.RowID) (*models.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM active_sessions WHERE id = $1 AND admin_id = $2 RETURNING `+rowColumns,
		uuid.UUID(rowID), uuid.UUID(accountID),
	)
	return scanRow(row, "delete session row by id")
}

func (s *PostgresStore) DeleteAll(ctx context.Context, accountID id.AccountID) ([]*models.Row, error) {
	return s.queryRows(ctx, "delete session rows",
		`DELETE FROM active_sessions WHERE admin_id = $1 RETURNING `+rowColumns,
		uuid.UUID(accountID),
	)
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID id.AccountID) ([]*models.Row, error) {
	return s.queryRows(ctx, "list session rows",
		`SELECT `+rowColumns+` FROM active_sessions WHERE admin_id = $1 ORDER BY last_active DESC, created_at DESC`,
		uuid.UUID(accountID),
	)
}

func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time) ([]*models.Row, error) {
	return s.queryRows(ctx, "delete stale session rows",
		`DELETE FROM active_sessions WHERE last_active < $1 RETURNING `+rowColumns,
		cutoff,
	)
}

func (s *PostgresStore) queryRows(ctx context.Context, op, query string, args ...any) ([]*models.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]*models.Row, 0)
	for rows.Next() {
		r, err := scanInto(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(row *sql.Row, op string) (*models.Row, error) {
	r, err := scanInto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session row not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

func scanInto(s scanner) (*models.Row, error) {
	var (
		r         models.Row
		rowID     uuid.UUID
		accountID uuid.UUID
		token     string
	)
	if err := s.Scan(&rowID, &accountID, &token, &r.DeviceInfo, &r.IPAddress, &r.LastActive, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ID = id.RowID(rowID)
	r.AccountID = id.AccountID(accountID)
	r.SessionToken = id.SessionToken(token)
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
