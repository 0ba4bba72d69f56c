// Package lockout throttles sign-in attempts per identifier and client IP.
// After Attempts failures inside Window the pair is locked for LockFor; a
// successful sign-in clears the record.
package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dErrors "acsadmin/pkg/domain-errors"
)

const keyPrefix = "signin"

type Config struct {
	Attempts int
	Window   time.Duration
	LockFor  time.Duration
}

func DefaultConfig() Config {
	return Config{Attempts: 5, Window: 15 * time.Minute, LockFor: 15 * time.Minute}
}

// Record is the failure history of one identifier and IP pair.
type Record struct {
	Failures      int
	LastFailureAt time.Time
	LockedUntil   time.Time
}

func (r *Record) lockedAt(now time.Time) bool {
	return r != nil && now.Before(r.LockedUntil)
}

// Store persists failure records.
// Get returns nil, nil for an unknown key. RecordFailure restarts the count
// when the previous failure is older than window.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (*Record, error)
	Lock(ctx context.Context, key string, until time.Time) error
	Clear(ctx context.Context, key string) error
}

type Service struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.Attempts > 0 {
			s.config = cfg
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("lockout store is required")
	}
	svc := &Service{
		store:  store,
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func key(identifier, ip string) string {
	return keyPrefix + ":" + strings.ToLower(strings.TrimSpace(identifier)) + ":" + ip
}

// Check refuses with CodeRateLimited while the pair is locked.
func (s *Service) Check(ctx context.Context, identifier, ip string) error {
	rec, err := s.store.Get(ctx, key(identifier, ip))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sign-in lockout")
	}
	now := s.now()
	if rec.lockedAt(now) {
		retry := rec.LockedUntil.Sub(now).Round(time.Second)
		return dErrors.New(dErrors.CodeRateLimited, fmt.Sprintf("too many failed sign-ins, retry in %s", retry))
	}
	return nil
}

// RecordFailure counts a failed attempt and reports whether it locked the pair.
func (s *Service) RecordFailure(ctx context.Context, identifier, ip string) (bool, error) {
	k := key(identifier, ip)
	now := s.now()
	rec, err := s.store.RecordFailure(ctx, k, now, s.config.Window)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record sign-in failure")
	}
	if rec.Failures < s.config.Attempts {
		return false, nil
	}
	until := now.Add(s.config.LockFor)
	if err := s.store.Lock(ctx, k, until); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock sign-in")
	}
	s.logger.WarnContext(ctx, "sign-in locked",
		"identifier", identifier,
		"ip", ip,
		"failures", rec.Failures,
		"locked_until", until,
	)
	return true, nil
}

func (s *Service) Clear(ctx context.Context, identifier, ip string) error {
	if err := s.store.Clear(ctx, key(identifier, ip)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear sign-in failures")
	}
	return nil
}
