package models

import (
	"strings"
	"time"

	id "acsadmin/pkg/domain"
)

// Row binds one account to one browser tab. Its existence is the only thing
// that keeps the tab's credentials valid.
type Row struct {
	ID           id.RowID        `json:"id"`
	AccountID    id.AccountID    `json:"admin_id"`
	SessionToken id.SessionToken `json:"session_token"`
	DeviceInfo   string          `json:"device_info"`
	IPAddress    string          `json:"ip_address,omitempty"`
	LastActive   time.Time       `json:"last_active"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Deletion is the feed payload for a removed row.
func (r *Row) Deletion() Deletion {
	return Deletion{RowID: r.ID, AccountID: r.AccountID, SessionToken: r.SessionToken}
}

// IsStale reports whether the row has not been touched since before cutoff.
func (r *Row) IsStale(cutoff time.Time) bool {
	return r.LastActive.Before(cutoff)
}

// Deletion is published once per deleted row, addressed by its session token.
type Deletion struct {
	RowID        id.RowID        `json:"id"`
	AccountID    id.AccountID    `json:"admin_id"`
	SessionToken id.SessionToken `json:"session_token"`
}

// Reason labels why rows left the ledger. Used for metrics and audit.
type Reason string

const (
	ReasonLogout    Reason = "logout"
	ReasonRemote    Reason = "remote"
	ReasonLogoutAll Reason = "logout_all"
	ReasonStale     Reason = "stale"
)

type InsertRequest struct {
	SessionToken string `json:"session_token" validate:"required,notblank,max=128"`
	DeviceInfo   string `json:"device_info" validate:"max=200"`
}

func (r *InsertRequest) Normalize() {
	r.SessionToken = strings.TrimSpace(r.SessionToken)
	r.DeviceInfo = strings.TrimSpace(r.DeviceInfo)
}

// TouchRequest refreshes last_active. An empty DeviceInfo leaves the stored
// descriptor unchanged.
type TouchRequest struct {
	DeviceInfo string `json:"device_info" validate:"max=200"`
}

func (r *TouchRequest) Normalize() {
	r.DeviceInfo = strings.TrimSpace(r.DeviceInfo)
}

// DeleteResult reports how many rows an operation removed.
type DeleteResult struct {
	Deleted int `json:"deleted"`
}
