package config

import (
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration for the admin backend.
type Server struct {
	Addr          string
	Environment   string
	LogLevel      string
	JWTSigningKey string
	TokenTTL      time.Duration
	CORSOrigins   []string
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Lockout  LockoutConfig
	Mail     MailConfig
	Seed     SeedConfig
}

// DatabaseConfig holds the Postgres DSN and pool sizing. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the audit stream when Brokers is set.
type KafkaConfig struct {
	Brokers    string
	AuditTopic string
}

// LedgerConfig tunes the active-sessions ledger. StaleAfter of zero disables the janitor.
type LedgerConfig struct {
	StaleAfter      time.Duration
	JanitorInterval time.Duration
}

// LockoutConfig throttles sign-in failures per identifier and IP. Attempts of
// zero disables the lockout.
type LockoutConfig struct {
	Attempts int
	Window   time.Duration
	LockFor  time.Duration
}

// MailConfig controls delivery of activation tokens. An empty SMTPAddr logs
// them instead, with the token itself printed only outside production.
type MailConfig struct {
	SMTPAddr        string
	From            string
	Username        string
	Password        string
	VerifyURL       string
	VerificationTTL time.Duration
}

// SeedConfig creates demo admins at startup outside production.
type SeedConfig struct {
	Enabled  bool
	Password string
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
func FromEnv() Server {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	return Server{
		Addr:           envString("ACS_ADDR", ":8080"),
		Environment:    envString("ACS_ENV", "development"),
		LogLevel:       envString("LOG_LEVEL", "info"),
		JWTSigningKey:  envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		TokenTTL:       envDuration("TOKEN_TTL", 12*time.Hour),
		CORSOrigins:    envList("CORS_ORIGINS"),
		TrustedProxies: envPrefixes("TRUSTED_PROXIES"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    os.Getenv("KAFKA_BROKERS"),
			AuditTopic: envString("KAFKA_AUDIT_TOPIC", "acs.audit"),
		},
		Ledger: LedgerConfig{
			StaleAfter:      envDuration("LEDGER_STALE_AFTER", 24*time.Hour),
			JanitorInterval: envDuration("JANITOR_INTERVAL", 10*time.Minute),
		},
		Lockout: LockoutConfig{
			Attempts: envInt("SIGNIN_LOCKOUT_ATTEMPTS", 5),
			Window:   envDuration("SIGNIN_LOCKOUT_WINDOW", 15*time.Minute),
			LockFor:  envDuration("SIGNIN_LOCKOUT_DURATION", 15*time.Minute),
		},
		Mail: MailConfig{
			SMTPAddr:        os.Getenv("SMTP_ADDR"),
			From:            envString("MAIL_FROM", "no-reply@acs.local"),
			Username:        os.Getenv("SMTP_USERNAME"),
			Password:        os.Getenv("SMTP_PASSWORD"),
			VerifyURL:       os.Getenv("ACS_VERIFY_URL"),
			VerificationTTL: envDuration("VERIFICATION_TTL", 48*time.Hour),
		},
		Seed: SeedConfig{
			Enabled:  envBool("ACS_SEED_DEMO", false),
			Password: envString("ACS_SEED_PASSWORD", "demo-password"),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envPrefixes parses a comma separated list of CIDRs or bare addresses.
// Entries that do not parse are skipped.
func envPrefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, item := range envList(key) {
		if p, err := netip.ParsePrefix(item); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(item); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}
