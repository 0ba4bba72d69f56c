package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"acsadmin/internal/ledger/feed"
	"acsadmin/internal/ledger/metrics"
	"acsadmin/internal/ledger/models"
	"acsadmin/internal/ledger/service/mocks"
	"acsadmin/internal/sentinel"
	id "acsadmin/pkg/domain"
	dErrors "acsadmin/pkg/domain-errors"
	"acsadmin/pkg/platform/audit"
	"acsadmin/pkg/platform/audit/publisher"
	"acsadmin/pkg/platform/audit/store/memory"
	fixtures "acsadmin/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	mockStore  *mocks.MockStore
	bus        *feed.Bus
	auditStore *memory.InMemoryStore
	metrics    *metrics.Metrics
	now        time.Time
	account    id.AccountID
	service    *Service
	ctx        context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.bus = feed.NewBus(logger)
	s.auditStore = memory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.account = id.NewAccountID()
	s.ctx = context.Background()

	var err error
	s.service, err = New(s.mockStore, s.bus,
		WithLogger(logger),
		WithAuditLogger(audit.NewLogger(logger, publisher.NewPublisher(s.auditStore))),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) watch(token id.SessionToken) feed.Subscription {
	sub, err := s.bus.Subscribe(s.ctx, token)
	s.Require().NoError(err)
	s.T().Cleanup(sub.Close)
	return sub
}

func (s *ServiceSuite) expectEvent(sub feed.Subscription) models.Deletion {
	select {
	case d := <-sub.Events():
		return d
	case <-time.After(time.Second):
		s.FailNow("no deletion event")
		return models.Deletion{}
	}
}

func (s *ServiceSuite) expectNoEvent(sub feed.Subscription) {
	select {
	case d := <-sub.Events():
		s.Failf("unexpected deletion", "token %s", d.SessionToken)
	default:
	}
}

func (s *ServiceSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, s.bus)
	s.Error(err)
	_, err = New(s.mockStore, nil)
	s.Error(err)
}

func (s *ServiceSuite) TestLookup() {
	s.Run("absent row is nil without error", func() {
		s.mockStore.EXPECT().Find(gomock.Any(), s.account, id.SessionToken("tab-a")).
			Return(nil, sentinel.ErrNotFound)
		row, err := s.service.Lookup(s.ctx, s.account, "tab-a")
		s.NoError(err)
		s.Nil(row)
	})

	s.Run("store failure is internal", func() {
		s.mockStore.EXPECT().Find(gomock.Any(), s.account, id.SessionToken("tab-a")).
			Return(nil, errors.New("connection reset"))
		_, err := s.service.Lookup(s.ctx, s.account, "tab-a")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("empty token is rejected before the store", func() {
		_, err := s.service.Lookup(s.ctx, s.account, "")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestInsert() {
	s.Run("stamps times and records audit", func() {
		s.mockStore.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, row *models.Row) error {
				s.Equal(s.account, row.AccountID)
				s.Equal(id.SessionToken("tab-a"), row.SessionToken)
				s.True(row.LastActive.Equal(s.now))
				s.False(row.ID.IsNil())
				return nil
			})

		row, err := s.service.Insert(s.ctx, s.account, &models.InsertRequest{SessionToken: "tab-a", DeviceInfo: "Chrome on macOS"}, "203.0.113.7")
		s.Require().NoError(err)
		s.Equal("Chrome on macOS", row.DeviceInfo)
		s.Contains(s.auditStore.Actions(), audit.ActionSessionRegistered)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.RowsInserted))
	})

	s.Run("duplicate pair is a conflict", func() {
		s.mockStore.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)
		_, err := s.service.Insert(s.ctx, s.account, &models.InsertRequest{SessionToken: "tab-a"}, "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestTouchMissingRowIsNotFound() {
	s.mockStore.EXPECT().Touch(gomock.Any(), s.account, id.SessionToken("gone"), "", s.now).
		Return(nil, sentinel.ErrNotFound)
	_, err := s.service.Touch(s.ctx, s.account, "gone", &models.TouchRequest{})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestDeletePublishesOnlyForThatToken() {
	row := fixtures.NewRow(s.account).WithToken("tab-a").Build()
	mine := s.watch("tab-a")
	sibling := s.watch("tab-b")

	s.mockStore.EXPECT().Delete(gomock.Any(), s.account, id.SessionToken("tab-a")).Return(row, nil)

	res, err := s.service.Delete(s.ctx, s.account, "tab-a")
	s.Require().NoError(err)
	s.Equal(1, res.Deleted)
	s.Equal(row.ID, s.expectEvent(mine).RowID)
	s.expectNoEvent(sibling)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RowsDeleted.WithLabelValues("logout")))
}

func (s *ServiceSuite) TestDeleteOfMissingRowSucceedsWithoutEvent() {
	sub := s.watch("tab-a")
	s.mockStore.EXPECT().Delete(gomock.Any(), s.account, id.SessionToken("tab-a")).Return(nil, sentinel.ErrNotFound)

	res, err := s.service.Delete(s.ctx, s.account, "tab-a")
	s.Require().NoError(err)
	s.Equal(0, res.Deleted)
	s.expectNoEvent(sub)
}

func (s *ServiceSuite) TestDeleteStoreFailureSurfaces() {
	s.mockStore.EXPECT().Delete(gomock.Any(), s.account, id.SessionToken("tab-a")).Return(nil, errors.New("timeout"))
	_, err := s.service.Delete(s.ctx, s.account, "tab-a")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestDeleteByID() {
	s.Run("publishes to the row's token", func() {
		row := fixtures.NewRow(s.account).WithToken("phone").Build()
		sub := s.watch("phone")
		s.mockStore.EXPECT().DeleteByID(gomock.Any(), s.account, row.ID).Return(row, nil)

		_, err := s.service.DeleteByID(s.ctx, s.account, row.ID)
		s.Require().NoError(err)
		s.Equal(id.SessionToken("phone"), s.expectEvent(sub).SessionToken)
	})

	s.Run("unknown row is not found", func() {
		rowID := id.NewRowID()
		s.mockStore.EXPECT().DeleteByID(gomock.Any(), s.account, rowID).Return(nil, sentinel.ErrNotFound)
		_, err := s.service.DeleteByID(s.ctx, s.account, rowID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDeleteAllPublishesOnePerRow() {
	tokens := []string{"t1", "t2", "t3"}
	rows := make([]*models.Row, 0, len(tokens))
	subs := make([]feed.Subscription, 0, len(tokens))
	for _, token := range tokens {
		rows = append(rows, fixtures.NewRow(s.account).WithToken(token).Build())
		subs = append(subs, s.watch(id.SessionToken(token)))
	}
	s.mockStore.EXPECT().DeleteAll(gomock.Any(), s.account).Return(rows, nil)

	res, err := s.service.DeleteAll(s.ctx, s.account)
	s.Require().NoError(err)
	s.Equal(3, res.Deleted)
	for i, sub := range subs {
		s.Equal(rows[i].ID, s.expectEvent(sub).RowID)
	}
	s.Equal(3.0, testutil.ToFloat64(s.metrics.RowsDeleted.WithLabelValues("logout_all")))
}

func (s *ServiceSuite) TestPurgeStaleAuditsEachRow() {
	cutoff := s.now.Add(-24 * time.Hour)
	rows := []*models.Row{
		fixtures.NewRow(s.account).WithLastActive(cutoff.Add(-time.Hour)).Build(),
		fixtures.NewRow(id.NewAccountID()).WithLastActive(cutoff.Add(-time.Minute)).Build(),
	}
	s.mockStore.EXPECT().DeleteStale(gomock.Any(), cutoff).Return(rows, nil)

	n, err := s.service.PurgeStale(s.ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal([]audit.Action{audit.ActionSessionsPurged, audit.ActionSessionsPurged}, s.auditStore.Actions())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, models.Deletion) error {
	return errors.New("broker down")
}

func (s *ServiceSuite) TestPublishFailureDoesNotFailDelete() {
	svc, err := New(s.mockStore, failingPublisher{}, WithMetrics(s.metrics), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
	s.mockStore.EXPECT().Delete(gomock.Any(), s.account, id.SessionToken("tab-a")).
		Return(fixtures.NewRow(s.account).WithToken("tab-a").Build(), nil)

	res, err := svc.Delete(s.ctx, s.account, "tab-a")
	s.Require().NoError(err)
	s.Equal(1, res.Deleted)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.FeedPublishErr))
}
