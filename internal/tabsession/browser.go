// Package tabsession coordinates admin sessions per browser tab. Each tab
// owns one ledger row; the row's existence is the only thing keeping the tab
// signed in. Tabs of the same browser share the backend and the device
// directory and nothing else.
package tabsession

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"acsadmin/internal/device"
	"acsadmin/internal/directory"
	"acsadmin/internal/tabsession/metrics"
)

// Browser is one device: a user agent, an address and a directory of
// accounts that have signed in on it.
type Browser struct {
	UserAgent string
	IP        string
	Directory *directory.Directory

	backend Backend
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Browser)

func WithUserAgent(ua string) Option {
	return func(b *Browser) {
		b.UserAgent = ua
	}
}

func WithIP(ip string) Option {
	return func(b *Browser) {
		b.IP = ip
	}
}

func WithConfig(cfg Config) Option {
	return func(b *Browser) {
		b.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Browser) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Browser) {
		b.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Browser) {
		b.now = now
	}
}

func NewBrowser(backend Backend, dir *directory.Directory, opts ...Option) *Browser {
	b := &Browser{
		Directory: dir,
		backend:   backend,
		cfg:       DefaultConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cfg = b.cfg.withDefaults()
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.Directory == nil {
		b.Directory = directory.New(directory.NewInMemory())
	}
	return b
}

// DeviceInfo is the descriptor stored on rows registered from this browser.
func (b *Browser) DeviceInfo() string {
	return device.Describe(b.UserAgent)
}

type TabOption func(*Tab)

// WithScreen replaces the default Recorder.
func WithScreen(s Screen) TabOption {
	return func(t *Tab) {
		t.screen = s
	}
}

// WithStore opens the tab over existing transient storage.
func WithStore(s TabStore) TabOption {
	return func(t *Tab) {
		t.store = s
	}
}

// OpenTab opens a new tab with empty transient storage.
func (b *Browser) OpenTab(opts ...TabOption) *Tab {
	t := &Tab{
		browser: b,
		backend: b.backend,
		logger:  b.logger,
		visible: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.store == nil {
		t.store = NewMemoryTabStore()
	}
	if t.screen == nil {
		t.screen = NewRecorder()
	}
	return t
}

// RestoreTab reloads a tab from its transient storage. A stored credential
// resumes the session: the row is checked once and watchers start if it is
// still there. Reloading never creates a row.
func (b *Browser) RestoreTab(ctx context.Context, store TabStore, opts ...TabOption) (*Tab, Outcome) {
	t := b.OpenTab(append([]TabOption{WithStore(store)}, opts...)...)

	raw, ok := store.Get(keyCredential)
	if !ok {
		return t, Outcome{Disposition: Skipped, Err: ErrNotSignedIn}
	}
	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		b.logger.WarnContext(ctx, "discarding unreadable stored credential", "error", err)
		store.Remove(keyCredential)
		return t, Outcome{Disposition: Recovered, Err: err}
	}
	t.mu.Lock()
	t.cred = &cred
	token := t.ensureTabIDLocked()
	t.mu.Unlock()

	out := t.CheckValidity(ctx)
	if t.Ended() {
		return t, out
	}
	t.startWatchers(ctx, &cred, token)
	return t, out
}

func (b *Browser) observe(operation string, out Outcome) Outcome {
	if b.metrics != nil {
		b.metrics.ObserveOutcome(operation, string(out.Disposition))
	}
	return out
}

func (b *Browser) terminated(source string, first bool) {
	if b.metrics == nil {
		return
	}
	if first {
		b.metrics.IncrementTermination(source)
		return
	}
	b.metrics.IncrementDuplicate(source)
}

func (b *Browser) watchStarted() {
	if b.metrics != nil {
		b.metrics.WatchStarted()
	}
}

func (b *Browser) watchStopped() {
	if b.metrics != nil {
		b.metrics.WatchStopped()
	}
}
