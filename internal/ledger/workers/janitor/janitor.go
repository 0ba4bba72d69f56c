// Package janitor reaps ledger rows for tabs that vanished without logging
// out, e.g. after a browser crash.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultInterval   = 10 * time.Minute
	DefaultStaleAfter = 24 * time.Hour
)

// Purger is satisfied by the ledger service, so reaped rows are published
// and audited like any other deletion.
type Purger interface {
	PurgeStale(ctx context.Context, cutoff time.Time) (int, error)
}

// RunObserver records sweep outcomes. Satisfied by the ledger metrics.
type RunObserver interface {
	ObserveJanitorRun(ok bool)
}

type Janitor struct {
	purger     Purger
	interval   time.Duration
	staleAfter time.Duration
	observer   RunObserver
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Janitor)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(j *Janitor) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

// WithStaleAfter sets the idle period after which a row is reaped. Zero
// disables reaping.
func WithStaleAfter(d time.Duration) Option {
	return func(j *Janitor) {
		if d >= 0 {
			j.staleAfter = d
		}
	}
}

func WithObserver(o RunObserver) Option {
	return func(j *Janitor) {
		j.observer = o
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) {
		if logger != nil {
			j.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) {
		j.now = now
	}
}

func New(purger Purger, opts ...Option) (*Janitor, error) {
	if purger == nil {
		return nil, fmt.Errorf("purger is required")
	}
	j := &Janitor{
		purger:     purger,
		interval:   DefaultInterval,
		staleAfter: DefaultStaleAfter,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	return j, nil
}

// Enabled reports whether the janitor reaps anything at all.
func (j *Janitor) Enabled() bool { return j.staleAfter > 0 }

// Start sweeps every interval until ctx is cancelled. A disabled janitor
// blocks until cancellation so it can sit in an errgroup unconditionally.
func (j *Janitor) Start(ctx context.Context) error {
	if !j.Enabled() {
		j.logger.InfoContext(ctx, "ledger janitor disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				j.logger.ErrorContext(ctx, "ledger janitor sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce deletes rows idle for longer than staleAfter and returns how many
// were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	if !j.Enabled() {
		return 0, nil
	}
	cutoff := j.now().Add(-j.staleAfter)
	n, err := j.purger.PurgeStale(ctx, cutoff)
	if j.observer != nil {
		j.observer.ObserveJanitorRun(err == nil)
	}
	if err != nil {
		return 0, fmt.Errorf("purge stale sessions: %w", err)
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "reaped stale sessions", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
