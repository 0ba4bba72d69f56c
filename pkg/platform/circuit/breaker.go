// Package circuit guards calls to a dependency that may disappear, such as the
// audit broker. While the breaker is open only periodic probes reach it.
package circuit

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// StateChange reports a transition caused by the last recorded outcome.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker opens after failureThreshold consecutive failures and closes again
// after successThreshold consecutive successful probes.
type Breaker struct {
	mu               sync.Mutex
	state            State
	name             string
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int

	probeEvery    int
	probeInterval time.Duration
	skipped       int
	lastProbe     time.Time
	now           func() time.Time
	listener      func(name string, to State)
}

type Option func(*Breaker)

// WithFailureThreshold defaults to 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold defaults to 3.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithProbeEvery lets every nth call through while open. Defaults to 10.
func WithProbeEvery(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.probeEvery = n
		}
	}
}

// WithProbeInterval also lets a call through once d has passed since the last
// probe, so a quiet dependency is still retried. Zero disables it.
func WithProbeInterval(d time.Duration) Option {
	return func(b *Breaker) {
		if d >= 0 {
			b.probeInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateListener is called after every transition, outside the lock.
func WithStateListener(fn func(name string, to State)) Option {
	return func(b *Breaker) {
		b.listener = fn
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 3,
		probeEvery:       10,
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// Allow reports whether the next call should reach the dependency. A closed
// breaker always allows; an open one allows a probe once probeEvery calls were
// skipped or probeInterval has elapsed since the last probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed {
		return true
	}

	b.skipped++
	now := b.now()
	due := b.skipped >= b.probeEvery ||
		(b.probeInterval > 0 && now.Sub(b.lastProbe) >= b.probeInterval)
	if !due {
		return false
	}
	b.skipped = 0
	b.lastProbe = now
	return true
}

// RecordFailure returns true when callers should take the fallback path.
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	b.failureCount++
	b.successCount = 0
	switch {
	case b.state == StateOpen:
		useFallback = true
	case b.failureCount >= b.failureThreshold:
		b.state = StateOpen
		b.skipped = 0
		b.lastProbe = b.now()
		useFallback, change = true, StateChange{Opened: true}
	}
	b.mu.Unlock()

	if change.Opened {
		b.notify(StateOpen)
	}
	return useFallback, change
}

// RecordSuccess returns true when callers may use the primary path.
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	usePrimary = true
	if b.state == StateOpen {
		b.successCount++
		if b.successCount < b.successThreshold {
			usePrimary = false
		} else {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			b.skipped = 0
			change = StateChange{Closed: true}
		}
	} else {
		b.failureCount = 0
	}
	b.mu.Unlock()

	if change.Closed {
		b.notify(StateClosed)
	}
	return usePrimary, change
}

func (b *Breaker) notify(to State) {
	if b.listener != nil {
		b.listener(b.name, to)
	}
}
