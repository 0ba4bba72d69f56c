// Package directory is the device-local list of accounts that have signed in
// on this browser. It only feeds the account picker and pre-fills the
// identifier field; it never grants a session.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
)

// palette is indexed by the initial's code point.
var palette = [...]string{"#2896cd", "#10B981", "#F59E0B", "#EF4444", "#6366F1", "#EC4899"}

type Entry struct {
	AccountID  id.AccountID   `json:"id"`
	Code       id.AccountCode `json:"admin_id"`
	FullName   string         `json:"full_name"`
	Email      string         `json:"email"`
	Initial    string         `json:"initial"`
	Color      string         `json:"color"`
	LastUsedAt time.Time      `json:"last_used_at"`
}

// Account is what a successful sign-in tells the directory.
type Account struct {
	ID       id.AccountID
	Code     id.AccountCode
	FullName string
	Email    string
}

// Store persists entries keyed by account.
// Error Contract: Get and Remove return sentinel.ErrNotFound for unknown accounts.
type Store interface {
	Upsert(ctx context.Context, entry Entry) error
	Get(ctx context.Context, accountID id.AccountID) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Remove(ctx context.Context, accountID id.AccountID) error
	Clear(ctx context.Context) error
}

type Directory struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Directory {
	return &Directory{store: store, now: time.Now}
}

// WithClock returns a copy of d reading time from now.
func (d *Directory) WithClock(now func() time.Time) *Directory {
	c := *d
	c.now = now
	return &c
}

// Remember records a successful sign-in and returns the stored entry.
func (d *Directory) Remember(ctx context.Context, account Account) (Entry, error) {
	initial := InitialOf(account.FullName, account.Email)
	entry := Entry{
		AccountID:  account.ID,
		Code:       account.Code,
		FullName:   account.FullName,
		Email:      account.Email,
		Initial:    initial,
		Color:      ColorFor(initial),
		LastUsedAt: d.now(),
	}
	if err := d.store.Upsert(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (d *Directory) Get(ctx context.Context, accountID id.AccountID) (*Entry, error) {
	return d.store.Get(ctx, accountID)
}

// List returns every entry, most recently used first.
func (d *Directory) List(ctx context.Context) ([]Entry, error) {
	return d.store.List(ctx)
}

// Others returns the entries the picker offers while current is signed in.
func (d *Directory) Others(ctx context.Context, current id.AccountID) ([]Entry, error) {
	all, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if e.AccountID != current {
			out = append(out, e)
		}
	}
	return out, nil
}

// Forget removes one account. Forgetting an unknown account is a no-op.
func (d *Directory) Forget(ctx context.Context, accountID id.AccountID) error {
	if err := d.store.Remove(ctx, accountID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	return nil
}

func (d *Directory) Clear(ctx context.Context) error {
	return d.store.Clear(ctx)
}

// InitialOf is the upper-cased first letter of the name, falling back to the
// email and then to "?".
func InitialOf(fullName, email string) string {
	for _, s := range []string{fullName, email} {
		s = strings.TrimSpace(s)
		if r, _ := utf8.DecodeRuneInString(s); r != utf8.RuneError {
			return string(unicode.ToUpper(r))
		}
	}
	return "?"
}

func ColorFor(initial string) string {
	r, _ := utf8.DecodeRuneInString(initial)
	if r == utf8.RuneError {
		return palette[0]
	}
	return palette[int(r)%len(palette)]
}
