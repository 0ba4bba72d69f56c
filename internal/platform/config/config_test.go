package config

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("ACS_ADDR", "")
	t.Setenv("LEDGER_STALE_AFTER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SIGNIN_LOCKOUT_ATTEMPTS", "")
	t.Setenv("SIGNIN_LOCKOUT_DURATION", "")
	t.Setenv("SMTP_ADDR", "")
	t.Setenv("VERIFICATION_TTL", "")

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.StaleAfter)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Lockout.Attempts)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.LockFor)
	assert.Empty(t, cfg.Mail.SMTPAddr)
	assert.Equal(t, 48*time.Hour, cfg.Mail.VerificationTTL)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ACS_ADDR", ":9090")
	t.Setenv("LEDGER_STALE_AFTER", "0s")
	t.Setenv("TOKEN_TTL", "bogus")
	t.Setenv("CORS_ORIGINS", "https://admin.example.com, https://example.com,")
	t.Setenv("ACS_SEED_DEMO", "true")
	t.Setenv("SMTP_ADDR", "mail.example.com:587")
	t.Setenv("ACS_VERIFY_URL", "https://admin.example.com/activate")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, time.Duration(0), cfg.Ledger.StaleAfter)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL, "unparsable durations fall back")
	assert.Equal(t, []string{"https://admin.example.com", "https://example.com"}, cfg.CORSOrigins)
	assert.True(t, cfg.Seed.Enabled)
	assert.Equal(t, "mail.example.com:587", cfg.Mail.SMTPAddr)
	assert.Equal(t, "https://admin.example.com/activate", cfg.Mail.VerifyURL)
}

func TestFromEnv_TrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.9, not-an-ip")

	cfg := FromEnv()

	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.9/32"),
	}, cfg.TrustedProxies)
}
