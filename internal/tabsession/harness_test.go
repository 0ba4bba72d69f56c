package tabsession

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"acsadmin/internal/auth/mailer"
	authModels "acsadmin/internal/auth/models"
	authService "acsadmin/internal/auth/service"
	"acsadmin/internal/auth/store/account"
	"acsadmin/internal/directory"
	jwttoken "acsadmin/internal/jwt_token"
	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/ledger/models"
	ledgerService "acsadmin/internal/ledger/service"
	ledgerStore "acsadmin/internal/ledger/store"
	"acsadmin/internal/tabsession/metrics"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
)

const (
	chromeMac  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	firefoxWin = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"
	password   = "correct horse battery"
)

// world is a backend running in-process plus a failure-injecting wrapper
// that every browser talks through.
type world struct {
	t       *testing.T
	ctx     context.Context
	auth    *authService.Service
	outbox  *mailer.Outbox
	ledger  *ledgerService.Service
	bus     *feed.Bus
	backend *faultyBackend
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newWorld(t *testing.T) *world {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	outbox := mailer.NewOutbox()
	auth, err := authService.New(
		account.NewInMemory(),
		jwttoken.NewJWTService("test-signing-key", "acsadmin", "acsadmin", time.Hour),
		authService.WithLogger(logger),
		authService.WithBcryptCost(bcrypt.MinCost),
		authService.WithMailer(outbox),
	)
	require.NoError(t, err)

	bus := feed.NewBus(logger)
	ledger, err := ledgerService.New(ledgerStore.NewInMemory(), bus, ledgerService.WithLogger(logger))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	return &world{
		t:       t,
		ctx:     context.Background(),
		auth:    auth,
		outbox:  outbox,
		ledger:  ledger,
		bus:     bus,
		backend: &faultyBackend{Local: NewLocal(auth, ledger, bus)},
		reg:     reg,
		metrics: metrics.New(reg),
		logger:  logger,
	}
}

// admin signs up and activates an account with the mailed token.
func (w *world) admin(fullName, email string) *authModels.Account {
	w.t.Helper()
	req := &authModels.SignupRequest{FullName: fullName, Email: email, Password: password}
	req.Normalize()
	acct, err := w.auth.Signup(w.ctx, req)
	require.NoError(w.t, err)
	token, ok := w.outbox.Token(acct.Email)
	require.True(w.t, ok)
	acct, err = w.auth.Activate(w.ctx, acct.ID, token)
	require.NoError(w.t, err)
	return acct
}

// browser opens a device whose timers never fire on their own; tests drive
// polls and heartbeats explicitly.
func (w *world) browser(userAgent string, opts ...Option) *Browser {
	base := []Option{
		WithUserAgent(userAgent),
		WithIP("203.0.113.7"),
		WithLogger(w.logger),
		WithMetrics(w.metrics),
		WithConfig(Config{HeartbeatInterval: time.Hour, PollInterval: time.Hour}),
	}
	return NewBrowser(w.backend, directory.New(directory.NewInMemory()), append(base, opts...)...)
}

func (w *world) login(tab *Tab, identifier string) *Credential {
	w.t.Helper()
	cred, err := tab.Login(w.ctx, identifier, password)
	require.NoError(w.t, err)
	w.t.Cleanup(tab.Close)
	return cred
}

func (w *world) rows(accountID id.AccountID) []*models.Row {
	w.t.Helper()
	rows, err := w.ledger.List(w.ctx, accountID)
	require.NoError(w.t, err)
	return rows
}

func (w *world) row(accountID id.AccountID, token id.SessionToken) *models.Row {
	w.t.Helper()
	row, err := w.ledger.Lookup(w.ctx, accountID, token)
	require.NoError(w.t, err)
	return row
}

// faultyBackend injects failures into an otherwise real backend.
type faultyBackend struct {
	*Local

	mu            sync.Mutex
	failDelete    error
	failDeleteAll error
	failSignOut   error
	failLookup    error
	dropPush      bool

	lookups     atomic.Int32
	globalCalls atomic.Int32
}

func (f *faultyBackend) set(fn func(f *faultyBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *faultyBackend) fault(pick func(f *faultyBackend) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pick(f)
}

func (f *faultyBackend) Lookup(ctx context.Context, cred *Credential, token id.SessionToken) (*models.Row, error) {
	f.lookups.Add(1)
	if err := f.fault(func(f *faultyBackend) error { return f.failLookup }); err != nil {
		return nil, err
	}
	return f.Local.Lookup(ctx, cred, token)
}

func (f *faultyBackend) Delete(ctx context.Context, cred *Credential, token id.SessionToken) error {
	if err := f.fault(func(f *faultyBackend) error { return f.failDelete }); err != nil {
		return err
	}
	return f.Local.Delete(ctx, cred, token)
}

func (f *faultyBackend) DeleteAll(ctx context.Context, cred *Credential) error {
	if err := f.fault(func(f *faultyBackend) error { return f.failDeleteAll }); err != nil {
		return err
	}
	return f.Local.DeleteAll(ctx, cred)
}

func (f *faultyBackend) GlobalSignOut(ctx context.Context, cred *Credential) error {
	f.globalCalls.Add(1)
	if err := f.fault(func(f *faultyBackend) error { return f.failSignOut }); err != nil {
		return err
	}
	return f.Local.GlobalSignOut(ctx, cred)
}

func (f *faultyBackend) Watch(ctx context.Context, cred *Credential, token id.SessionToken) (feed.Subscription, error) {
	f.mu.Lock()
	drop := f.dropPush
	f.mu.Unlock()
	if drop {
		return newSilentSubscription(), nil
	}
	return f.Local.Watch(ctx, cred, token)
}

// silentSubscription models a push channel that lost its events.
type silentSubscription struct {
	events chan models.Deletion
	once   sync.Once
}

func newSilentSubscription() *silentSubscription {
	return &silentSubscription{events: make(chan models.Deletion)}
}

func (s *silentSubscription) Events() <-chan models.Deletion { return s.events }
func (s *silentSubscription) Close()                         { s.once.Do(func() { close(s.events) }) }

var errBackendDown = dErrors.New(dErrors.CodeUnavailable, "backend down")

func recorder(t *Tab) *Recorder {
	return t.Screen().(*Recorder)
}

func storeLen(t *Tab) int {
	return t.Store().(*MemoryTabStore).Len()
}
