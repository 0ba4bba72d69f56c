// Package mailer delivers account verification tokens to new admins.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Verification is one activation message. Token is the plaintext secret; the
// account store only ever sees its hash.
type Verification struct {
	AccountID string
	Email     string
	FullName  string
	Token     string
	ExpiresAt time.Time
}

// Link appends the account ID and token to base. An empty base yields "".
func (v Verification) Link(base string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("account", v.AccountID)
	q.Set("token", v.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

// LogMailer writes verifications to the log instead of sending them. Tokens
// are only printed when revealTokens is set, which the server does outside
// production.
type LogMailer struct {
	logger       *slog.Logger
	verifyURL    string
	revealTokens bool
}

func NewLogMailer(logger *slog.Logger, verifyURL string, revealTokens bool) *LogMailer {
	return &LogMailer{logger: logger, verifyURL: verifyURL, revealTokens: revealTokens}
}

func (m *LogMailer) SendVerification(ctx context.Context, v Verification) error {
	attrs := []any{
		"account_id", v.AccountID,
		"email", v.Email,
		"expires_at", v.ExpiresAt,
	}
	if m.revealTokens {
		attrs = append(attrs, "token", v.Token)
		if link := v.Link(m.verifyURL); link != "" {
			attrs = append(attrs, "link", link)
		}
	}
	m.logger.InfoContext(ctx, "verification email", attrs...)
	return nil
}

// SMTPConfig names the relay and the sender. Username empty means no AUTH.
type SMTPConfig struct {
	Addr      string
	From      string
	Username  string
	Password  string
	VerifyURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends plain text verification mail through a relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send sendFunc
}

func NewSMTP(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) SendVerification(ctx context.Context, v Verification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		host, _, err := net.SplitHostPort(m.cfg.Addr)
		if err != nil {
			return fmt.Errorf("smtp address %q: %w", m.cfg.Addr, err)
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}
	if err := m.send(m.cfg.Addr, auth, m.cfg.From, []string{v.Email}, m.compose(v)); err != nil {
		return fmt.Errorf("send verification to %s: %w", v.Email, err)
	}
	return nil
}

func (m *SMTPMailer) compose(v Verification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", v.Email)
	b.WriteString("Subject: Activate your ACS admin account\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	fmt.Fprintf(&b, "Hello %s,\r\n\r\n", v.FullName)
	if link := v.Link(m.cfg.VerifyURL); link != "" {
		fmt.Fprintf(&b, "Open this link to activate your account:\r\n%s\r\n\r\n", link)
	} else {
		fmt.Fprintf(&b, "Your activation token is:\r\n%s\r\n\r\n", v.Token)
	}
	fmt.Fprintf(&b, "It expires at %s.\r\n", v.ExpiresAt.UTC().Format(time.RFC1123))
	return []byte(b.String())
}

// Outbox keeps every verification in memory. Tests and the in-process e2e
// backend read tokens back from it.
type Outbox struct {
	mu   sync.Mutex
	sent []Verification
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) SendVerification(_ context.Context, v Verification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, v)
	return nil
}

// Token returns the most recent token mailed to email.
func (o *Outbox) Token(email string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Email == email {
			return o.sent[i].Token, true
		}
	}
	return "", false
}

func (o *Outbox) Sent() []Verification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Verification, len(o.sent))
	copy(out, o.sent)
	return out
}
