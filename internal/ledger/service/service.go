package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/ledger/metrics"
	"acsadmin/internal/ledger/models"
	"acsadmin/internal/platform/privacy"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	"acsadmin/pkg/platform/audit"
	psync "acsadmin/pkg/platform/sync"
)

// Store is the ledger persistence port.
// Error Contract: single-row methods return sentinel.ErrNotFound when the row
// is absent; Insert returns sentinel.ErrConflict when (account, token) exists.
// Bulk deletes return the removed rows, possibly none.
type Store interface {
	Find(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error)
	Insert(ctx context.Context, row *models.Row) error
	Touch(ctx context.Context, accountID id.AccountID, token id.SessionToken, deviceInfo string, now time.Time) (*models.Row, error)
	Delete(ctx context.Context, accountID id.AccountID, token id.SessionToken) (*models.Row, error)
	DeleteByID(ctx context.Context, accountID id.AccountID, rowID id.RowID) (*models.Row, error)
	DeleteAll(ctx context.Context, accountID id.AccountID) ([]*models.Row, error)
	ListByAccount(ctx context.Context, accountID id.AccountID) ([]*models.Row, error)
	DeleteStale(ctx context.Context, cutoff time.Time) ([]*models.Row, error)
}

// Service owns every ledger write. Deletions are published on the feed once
// the store has committed them, one event per removed row.
type Service struct {
	store     Store
	publisher feed.Publisher
	locks     *psync.ShardedMutex
	logger    *slog.Logger
	audit     *audit.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Service) {
		s.audit = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, publisher feed.Publisher, opts ...Option) (*Service, error) {
	if store == nil || publisher == nil {
		return nil, errors.New("ledger store and feed publisher are required")
	}
	svc := &Service{
		store:     store,
		publisher: publisher,
		locks:     psync.NewShardedMutex(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer("acsadmin/ledger")
	}
	return svc, nil
}

// Lookup returns the row for (account, token), or nil without error when
// there is none. Only infrastructure failures are errors.
func (s *Service) Lookup(ctx context.Context, accountID id.AccountID, token id.SessionToken) (row *models.Row, err error) {
	ctx, span := s.start(ctx, "ledger.lookup", accountID)
	defer func() { end(span, err) }()

	if token.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session token required")
	}
	row, err = s.store.Find(ctx, accountID, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "session lookup failed")
	}
	return row, nil
}

// Insert creates the row for a freshly registered tab.
func (s *Service) Insert(ctx context.Context, accountID id.AccountID, req *models.InsertRequest, ipAddress string) (row *models.Row, err error) {
	ctx, span := s.start(ctx, "ledger.insert", accountID)
	defer func() { end(span, err) }()

	token, err := id.ParseSessionToken(req.SessionToken)
	if err != nil {
		return nil, err
	}
	now := s.now()
	row = &models.Row{
		ID:           id.NewRowID(),
		AccountID:    accountID,
		SessionToken: token,
		DeviceInfo:   req.DeviceInfo,
		IPAddress:    ipAddress,
		LastActive:   now,
		CreatedAt:    now,
	}

	s.locks.Lock(accountID.String())
	err = s.store.Insert(ctx, row)
	s.locks.Unlock(accountID.String())
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "session already registered for this tab")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register session")
	}

	s.audit.Record(ctx, audit.Event{
		AccountID: accountID,
		Action:    audit.ActionSessionRegistered,
		Subject:   privacy.MaskToken(token.String()),
		Device:    row.DeviceInfo,
		IPAddress: ipAddress,
	})
	if s.metrics != nil {
		s.metrics.IncrementInserted()
	}
	return row, nil
}

// Touch refreshes last_active, and the device descriptor when one is given.
// It never creates a row.
func (s *Service) Touch(ctx context.Context, accountID id.AccountID, token id.SessionToken, req *models.TouchRequest) (row *models.Row, err error) {
	ctx, span := s.start(ctx, "ledger.touch", accountID)
	defer func() { end(span, err) }()

	if token.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session token required")
	}
	row, err = s.store.Touch(ctx, accountID, token, req.DeviceInfo, s.now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to touch session")
	}
	if s.metrics != nil {
		s.metrics.IncrementTouched()
	}
	return row, nil
}

// Delete ends one tab's session. Deleting a row that is already gone is not
// an error; the result reports zero rows.
func (s *Service) Delete(ctx context.Context, accountID id.AccountID, token id.SessionToken) (res models.DeleteResult, err error) {
	ctx, span := s.start(ctx, "ledger.delete", accountID)
	defer func() { end(span, err) }()

	if token.IsNil() {
		return res, dErrors.New(dErrors.CodeBadRequest, "session token required")
	}
	s.locks.Lock(accountID.String())
	defer s.locks.Unlock(accountID.String())

	row, err := s.store.Delete(ctx, accountID, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
	}
	s.deleted(ctx, []*models.Row{row}, models.ReasonLogout)
	return models.DeleteResult{Deleted: 1}, nil
}

// DeleteByID signs out one device of the account from elsewhere.
func (s *Service) DeleteByID(ctx context.Context, accountID id.AccountID, rowID id.RowID) (res models.DeleteResult, err error) {
	ctx, span := s.start(ctx, "ledger.delete_by_id", accountID)
	defer func() { end(span, err) }()

	if rowID.IsNil() {
		return res, dErrors.New(dErrors.CodeBadRequest, "session ID required")
	}
	s.locks.Lock(accountID.String())
	defer s.locks.Unlock(accountID.String())

	row, err := s.store.DeleteByID(ctx, accountID, rowID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return res, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return res, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
	}
	s.deleted(ctx, []*models.Row{row}, models.ReasonRemote)
	return models.DeleteResult{Deleted: 1}, nil
}

// DeleteAll removes every row of the account.
func (s *Service) DeleteAll(ctx context.Context, accountID id.AccountID) (res models.DeleteResult, err error) {
	ctx, span := s.start(ctx, "ledger.delete_all", accountID)
	defer func() { end(span, err) }()

	s.locks.Lock(accountID.String())
	defer s.locks.Unlock(accountID.String())

	rows, err := s.store.DeleteAll(ctx, accountID)
	if err != nil {
		return res, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete sessions")
	}
	s.deleted(ctx, rows, models.ReasonLogoutAll)
	span.SetAttributes(attribute.Int("ledger.deleted", len(rows)))
	return models.DeleteResult{Deleted: len(rows)}, nil
}

// List returns the account's rows, most recently active first.
func (s *Service) List(ctx context.Context, accountID id.AccountID) (rows []*models.Row, err error) {
	ctx, span := s.start(ctx, "ledger.list", accountID)
	defer func() { end(span, err) }()

	rows, err = s.store.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}
	return rows, nil
}

// PurgeStale removes rows whose last_active is older than cutoff. Open tabs
// owning those rows see the deletion like any other remote sign-out.
func (s *Service) PurgeStale(ctx context.Context, cutoff time.Time) (n int, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.purge_stale")
	defer func() { end(span, err) }()

	rows, err := s.store.DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge stale sessions")
	}
	s.deleted(ctx, rows, models.ReasonStale)
	span.SetAttributes(attribute.Int("ledger.deleted", len(rows)))
	return len(rows), nil
}

// deleted publishes, audits and counts rows the store has already removed.
// Publish failures are logged; watchers recover through polling.
func (s *Service) deleted(ctx context.Context, rows []*models.Row, reason models.Reason) {
	for _, row := range rows {
		if err := s.publisher.Publish(ctx, row.Deletion()); err != nil {
			s.logger.WarnContext(ctx, "failed to publish session deletion",
				"error", err,
				"row_id", row.ID.String(),
			)
			if s.metrics != nil {
				s.metrics.IncrementPublishErrors()
			}
		}

		action := audit.ActionSessionEnded
		switch reason {
		case models.ReasonLogoutAll:
			action = audit.ActionSessionsEndedAll
		case models.ReasonStale:
			action = audit.ActionSessionsPurged
		}
		s.audit.Record(ctx, audit.Event{
			AccountID: row.AccountID,
			Action:    action,
			Subject:   privacy.MaskToken(row.SessionToken.String()),
			Device:    row.DeviceInfo,
			IPAddress: row.IPAddress,
			Reason:    string(reason),
		})
	}
	if s.metrics != nil {
		s.metrics.AddDeleted(string(reason), len(rows))
	}
}

func (s *Service) start(ctx context.Context, name string, accountID id.AccountID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("account.id", accountID.String())))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
