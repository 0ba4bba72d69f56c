// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	dErrors "acsadmin/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing an AccountID where a RowID is expected.
type (
	AccountID uuid.UUID
	RowID     uuid.UUID
)

// SessionToken is the opaque per-tab identifier stored in a ledger row.
type SessionToken string

// AccountCode is the short human-facing admin code, e.g. "ACS-07".
type AccountCode string

const accountCodePrefix = "ACS-"

var accountCodePattern = regexp.MustCompile(`^ACS-(\d{2,})$`)

func NewAccountID() AccountID { return AccountID(uuid.New()) }
func NewRowID() RowID         { return RowID(uuid.New()) }

// NewSessionToken returns a random, unguessable tab token (uuid v4 from crypto/rand).
func NewSessionToken() SessionToken { return SessionToken(uuid.NewString()) }

func ParseAccountID(s string) (AccountID, error) {
	id, err := parseUUID(s, "account ID")
	return AccountID(id), err
}

func ParseRowID(s string) (RowID, error) {
	id, err := parseUUID(s, "session ID")
	return RowID(id), err
}

func ParseSessionToken(s string) (SessionToken, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "session token cannot be empty")
	}
	return SessionToken(s), nil
}

// FormatAccountCode renders the n-th code with at least two digits.
func FormatAccountCode(n int) AccountCode {
	return AccountCode(fmt.Sprintf("%s%02d", accountCodePrefix, n))
}

// ParseAccountCode validates an identifier against the ACS-NN grammar and
// returns its sequence number.
func ParseAccountCode(s string) (AccountCode, int, error) {
	m := accountCodePattern.FindStringSubmatch(s)
	if m == nil {
		return "", 0, dErrors.New(dErrors.CodeInvalidInput, "invalid account code")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid account code")
	}
	return AccountCode(s), n, nil
}

// IsAccountCode reports whether s looks like an ACS-NN code rather than an email.
func IsAccountCode(s string) bool { return accountCodePattern.MatchString(s) }

func (id AccountID) String() string   { return uuid.UUID(id).String() }
func (id RowID) String() string       { return uuid.UUID(id).String() }
func (t SessionToken) String() string { return string(t) }
func (c AccountCode) String() string  { return string(c) }

func (id AccountID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RowID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (t SessionToken) IsNil() bool { return t == "" }

// parseUUID is the shared validation logic. Nil UUIDs are allowed here; the
// service layer rejects them with IsNil so stores can return proper not-found errors.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	return id, nil
}

// MarshalText renders IDs as canonical UUID strings in JSON.
func (id AccountID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RowID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }

func (id *AccountID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RowID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
