// Package server assembles the admin backend from configuration: stores,
// realtime feed, audit pipeline, services, HTTP router and background workers.
// Every external dependency is optional; without one the in-memory
// counterpart is used.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	authHandler "acsadmin/internal/auth/handler"
	"acsadmin/internal/auth/lockout"
	"acsadmin/internal/auth/mailer"
	authMetrics "acsadmin/internal/auth/metrics"
	authService "acsadmin/internal/auth/service"
	"acsadmin/internal/auth/store/account"
	jwttoken "acsadmin/internal/jwt_token"
	"acsadmin/internal/ledger/feed"
	ledgerHandler "acsadmin/internal/ledger/handler"
	ledgerMetrics "acsadmin/internal/ledger/metrics"
	ledgerService "acsadmin/internal/ledger/service"
	ledgerStore "acsadmin/internal/ledger/store"
	"acsadmin/internal/ledger/workers/janitor"
	"acsadmin/internal/platform/config"
	"acsadmin/internal/platform/database"
	"acsadmin/internal/platform/health"
	"acsadmin/internal/platform/kafka"
	"acsadmin/internal/platform/metrics"
	"acsadmin/internal/platform/redis"
	"acsadmin/internal/seeder"
	httptransport "acsadmin/internal/transport/http"
	"acsadmin/pkg/platform/audit"
	"acsadmin/pkg/platform/audit/publisher"
	auditmemory "acsadmin/pkg/platform/audit/store/memory"
	auditpostgres "acsadmin/pkg/platform/audit/store/postgres"
	"acsadmin/pkg/platform/audit/stream"
)

const (
	auditBuffer       = 256
	poolStatsInterval = 15 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// App is a fully wired backend.
type App struct {
	Handler http.Handler
	Auth    *authService.Service
	Ledger  *ledgerService.Service
	Feed    feed.Subscriber
	Health  *health.Handler
	Janitor *janitor.Janitor

	cfg     config.Server
	logger  *slog.Logger
	redis   *redis.Client
	closers []func() error
}

type options struct {
	registerer     prometheus.Registerer
	gatherer       prometheus.Gatherer
	bcryptCost     int
	clock          func() time.Time
	accountStore   authService.AccountStore
	ledgerStore    ledgerService.Store
	auditStore     audit.Store
	mailer         authService.Mailer
	skipMigrations bool
}

type Option func(*options)

// WithRegistry registers collectors on reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithBcryptCost lowers the hashing cost, for tests.
func WithBcryptCost(cost int) Option {
	return func(o *options) { o.bcryptCost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithLedgerStore overrides the store chosen from configuration.
func WithLedgerStore(s ledgerService.Store) Option {
	return func(o *options) { o.ledgerStore = s }
}

// WithAccountStore overrides the store chosen from configuration.
func WithAccountStore(s authService.AccountStore) Option {
	return func(o *options) { o.accountStore = s }
}

// WithAuditStore overrides the durable audit store.
func WithAuditStore(s audit.Store) Option {
	return func(o *options) { o.auditStore = s }
}

// WithMailer overrides the mailer chosen from configuration.
func WithMailer(m authService.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// WithoutMigrations skips applying schema migrations on startup.
func WithoutMigrations() Option {
	return func(o *options) { o.skipMigrations = true }
}

// New connects to whatever cfg names and wires the services on top.
func New(ctx context.Context, cfg config.Server, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{cfg: cfg, logger: logger, Health: health.New(cfg.Environment)}
	if err := app.wire(ctx, o); err != nil {
		_ = app.Close() //nolint:errcheck // the wiring error is more useful
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	pool, err := database.New(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
		a.Health.RegisterCheck("database", pool.Health)
		if !o.skipMigrations {
			if err := database.Migrate(ctx, pool.DB()); err != nil {
				return err
			}
		}
		a.logger.InfoContext(ctx, "using postgres stores")
	}

	rdb, err := redis.New(ctx, a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		a.redis = rdb
		a.closers = append(a.closers, rdb.Close)
		a.Health.RegisterCheck("redis", rdb.Health)
	}

	auditStore, err := a.auditStore(ctx, pool, o)
	if err != nil {
		return err
	}
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(auditBuffer),
		publisher.WithPublisherLogger(a.logger),
	)
	a.closers = append(a.closers, func() error { auditPublisher.Close(); return nil })
	auditLogger := audit.NewLogger(a.logger, auditPublisher)

	accounts := o.accountStore
	switch {
	case accounts != nil:
	case pool != nil:
		accounts = account.NewPostgres(pool.DB())
	default:
		accounts = account.NewInMemory()
	}

	authOpts := []authService.Option{
		authService.WithLogger(a.logger),
		authService.WithAuditLogger(auditLogger),
		authService.WithMetrics(authMetrics.New(o.registerer)),
		authService.WithMailer(a.verificationMailer(o)),
		authService.WithVerificationTTL(a.cfg.Mail.VerificationTTL),
	}
	if o.bcryptCost > 0 {
		authOpts = append(authOpts, authService.WithBcryptCost(o.bcryptCost))
	}
	if o.clock != nil {
		authOpts = append(authOpts, authService.WithClock(o.clock))
	}
	if a.cfg.Lockout.Attempts > 0 {
		limiter, err := a.signInLockout(o)
		if err != nil {
			return err
		}
		authOpts = append(authOpts, authService.WithLockout(limiter))
	}
	tokens := jwttoken.NewJWTService(a.cfg.JWTSigningKey, jwttoken.DefaultIssuer, jwttoken.DefaultAudience, a.cfg.TokenTTL)
	a.Auth, err = authService.New(accounts, tokens, authOpts...)
	if err != nil {
		return err
	}

	var (
		rows      = o.ledgerStore
		deletions feed.Publisher
	)
	if rdb != nil {
		redisFeed := feed.NewRedis(rdb.Client, a.logger)
		deletions, a.Feed = redisFeed, redisFeed
		if rows == nil {
			rows = ledgerStore.NewRedis(rdb.Client)
		}
	} else {
		bus := feed.NewBus(a.logger)
		deletions, a.Feed = bus, bus
	}
	if rows == nil {
		if pool != nil {
			rows = ledgerStore.NewPostgres(pool.DB())
		} else {
			rows = ledgerStore.NewInMemory()
		}
	}

	lm := ledgerMetrics.New(o.registerer)
	ledgerOpts := []ledgerService.Option{
		ledgerService.WithLogger(a.logger),
		ledgerService.WithAuditLogger(auditLogger),
		ledgerService.WithMetrics(lm),
	}
	if o.clock != nil {
		ledgerOpts = append(ledgerOpts, ledgerService.WithClock(o.clock))
	}
	a.Ledger, err = ledgerService.New(rows, deletions, ledgerOpts...)
	if err != nil {
		return err
	}

	janitorOpts := []janitor.Option{
		janitor.WithInterval(a.cfg.Ledger.JanitorInterval),
		janitor.WithStaleAfter(a.cfg.Ledger.StaleAfter),
		janitor.WithObserver(lm),
		janitor.WithLogger(a.logger),
	}
	if o.clock != nil {
		janitorOpts = append(janitorOpts, janitor.WithClock(o.clock))
	}
	a.Janitor, err = janitor.New(a.Ledger, janitorOpts...)
	if err != nil {
		return err
	}

	if a.cfg.Seed.Enabled {
		if a.cfg.Environment == "production" {
			a.logger.WarnContext(ctx, "demo seeding is ignored in production")
		} else if _, err := seeder.New(a.Auth, a.Ledger, a.cfg.Seed.Password, a.logger).SeedAll(ctx, seeder.DemoAdmins); err != nil {
			return fmt.Errorf("seed demo admins: %w", err)
		}
	}

	auth := authHandler.New(a.Auth, a.logger)
	a.Handler = httptransport.NewRouter(httptransport.Deps{
		Authenticator:  a.Auth,
		Metrics:        metrics.New(o.registerer),
		MetricsHandler: promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}),
		Health:         a.Health,
		Public:         []httptransport.Module{auth},
		Protected: []httptransport.Module{
			httptransport.ModuleFunc(auth.RegisterProtected),
			ledgerHandler.New(a.Ledger, a.Feed, a.logger),
		},
		CORSOrigins:    a.cfg.CORSOrigins,
		TrustedProxies: a.cfg.TrustedProxies,
	}, a.logger)
	return nil
}

// signInLockout shares lockout state through Redis when it is configured so
// every instance sees the same failures.
func (a *App) verificationMailer(o options) authService.Mailer {
	if o.mailer != nil {
		return o.mailer
	}
	mc := a.cfg.Mail
	if mc.SMTPAddr != "" {
		return mailer.NewSMTP(mailer.SMTPConfig{
			Addr:      mc.SMTPAddr,
			From:      mc.From,
			Username:  mc.Username,
			Password:  mc.Password,
			VerifyURL: mc.VerifyURL,
		})
	}
	production := a.cfg.Environment == "production"
	if production {
		a.logger.Warn("SMTP_ADDR is not set; activation tokens cannot be delivered")
	}
	return mailer.NewLogMailer(a.logger, mc.VerifyURL, !production)
}

func (a *App) signInLockout(o options) (*lockout.Service, error) {
	var store lockout.Store = lockout.NewInMemory()
	if a.redis != nil {
		store = lockout.NewRedis(a.redis.Client)
	}
	opts := []lockout.Option{
		lockout.WithLogger(a.logger),
		lockout.WithConfig(lockout.Config{
			Attempts: a.cfg.Lockout.Attempts,
			Window:   a.cfg.Lockout.Window,
			LockFor:  a.cfg.Lockout.LockFor,
		}),
	}
	if o.clock != nil {
		opts = append(opts, lockout.WithClock(o.clock))
	}
	return lockout.New(store, opts...)
}

// auditStore picks the durable store and tees it to Kafka when brokers are
// configured.
func (a *App) auditStore(ctx context.Context, pool *database.Pool, o options) (audit.Store, error) {
	durable := o.auditStore
	switch {
	case durable != nil:
	case pool != nil:
		durable = auditpostgres.New(pool.DB())
	default:
		durable = auditmemory.NewInMemoryStore()
	}
	if a.cfg.Kafka.Brokers == "" {
		return durable, nil
	}

	producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, producer.Close)
	a.Health.RegisterCheck("kafka", kafka.NewHealthChecker(a.cfg.Kafka.Brokers).Check)
	a.logger.InfoContext(ctx, "streaming audit events", "topic", a.cfg.Kafka.AuditTopic)
	return stream.NewSink(producer, a.cfg.Kafka.AuditTopic, durable, a.logger), nil
}

// Serve runs the HTTP server on ln alongside the janitor and pool stats until
// ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(gctx, "starting http server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return ignoreCancel(a.Janitor.Start(gctx))
	})
	if a.redis != nil {
		g.Go(func() error {
			return ignoreCancel(a.redis.RunPoolStats(gctx, poolStatsInterval))
		})
	}
	return g.Wait()
}

// Close releases every connection in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
