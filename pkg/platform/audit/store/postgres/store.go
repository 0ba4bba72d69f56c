package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "acsadmin/pkg/domain"
	audit "acsadmin/pkg/platform/audit"
)

// Store implements audit.Store on the audit_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	var accountID *uuid.UUID
	if !event.AccountID.IsNil() {
		v := uuid.UUID(event.AccountID)
		accountID = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, occurred_at, admin_id, action, subject, device, ip_address, reason, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), event.Timestamp, accountID, string(event.Action),
		event.Subject, event.Device, event.IPAddress, event.Reason, event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByAccount returns the account's events, newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID id.AccountID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, action, subject, device, ip_address, reason, request_id
		FROM audit_events
		WHERE admin_id = $1
		ORDER BY occurred_at DESC`, uuid.UUID(accountID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		e := audit.Event{AccountID: accountID}
		var action string
		if err := rows.Scan(&e.Timestamp, &action, &e.Subject, &e.Device, &e.IPAddress, &e.Reason, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = audit.Action(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
