package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ilm/internal/consent/metrics"
	"ilm/internal/consent/models"
	"ilm/internal/consent/service/mocks"
	"ilm/internal/consent/store"
	"ilm/internal/notify"
	"ilm/internal/platform/kvstore"
	"ilm/pkg/platform/clock"
	dErrors "ilm/pkg/domain-errors"
)

func boolPtr(b bool) *bool { return &b }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ServiceSuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	mockStore    *mocks.MockStore
	mockListener *mocks.MockListener
	notifier     *notify.Queue
	clock        *clock.Manual
	service      *Service
	ctx          context.Context
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.mockListener = mocks.NewMockListener(s.ctrl)
	s.notifier = notify.NewQueue()
	s.clock = clock.NewManual(time.Date(2024, 1, 15, 13, 47, 12, 0, time.UTC))
	s.ctx = context.Background()
	s.service = New(
		s.mockStore,
		discardLogger(),
		WithNotifier(s.notifier),
		WithClock(s.clock),
		WithListener(s.mockListener),
		WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
	)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) TestMissingVisitor() {
	_, err := s.service.Get(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.Set(s.ctx, "", models.AcceptAll())
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestGetUnsetReturnsNil() {
	s.mockStore.EXPECT().Find(gomock.Any(), "v1").Return(nil, store.ErrNotFound)

	rec, err := s.service.Get(s.ctx, "v1")
	s.Require().NoError(err)
	s.Nil(rec)
}

func (s *ServiceSuite) TestGetStorageFailureIsNotFatal() {
	s.mockStore.EXPECT().Find(gomock.Any(), "v1").Return(nil, kvstore.ErrUnavailable)

	rec, err := s.service.Get(s.ctx, "v1")
	s.Require().NoError(err)
	s.Nil(rec)
}

func (s *ServiceSuite) TestSetNormalizesAndNotifiesListeners() {
	prev := models.NewRecord(models.AcceptAll(), s.clock.Now().Add(-time.Hour))
	s.mockStore.EXPECT().Find(gomock.Any(), "v1").Return(&prev, nil)
	s.mockStore.EXPECT().Save(gomock.Any(), "v1", gomock.Any()).Return(nil)
	s.mockStore.EXPECT().IncrementChoice(gomock.Any(), "v1", "fAm", s.clock.Now()).Return(nil)
	s.mockListener.EXPECT().
		ConsentChanged(gomock.Any(), "v1", &prev, gomock.Any()).
		Do(func(_ context.Context, _ string, _, curr *models.Record) {
			s.True(curr.Analytics)
		})

	rec, err := s.service.Set(s.ctx, "v1", models.Preferences{Analytics: boolPtr(true)})
	s.Require().NoError(err)
	s.True(rec.Functional)
	s.True(rec.Analytics)
	s.False(rec.Marketing)
	s.Equal("2024-01-15T13:47:12.000Z", rec.Timestamp)
	s.Equal(models.Version, rec.Version)

	toasts := s.notifier.Drain("v1")
	s.Require().Len(toasts, 1)
	s.Equal(notify.LevelSuccess, toasts[0].Level)
	s.Equal(int64(3000), toasts[0].DismissMS)
}

// A failed save keeps the decision for the session and warns the visitor.
func (s *ServiceSuite) TestSetStorageFailureFallsBackToSession() {
	s.mockStore.EXPECT().Find(gomock.Any(), "v1").Return(nil, store.ErrNotFound)
	s.mockStore.EXPECT().Save(gomock.Any(), "v1", gomock.Any()).Return(kvstore.ErrQuotaExceeded)
	s.mockListener.EXPECT().ConsentChanged(gomock.Any(), "v1", nil, gomock.Any())

	rec, err := s.service.Set(s.ctx, "v1", models.DeclineAll())
	s.Require().NoError(err)
	s.False(rec.Analytics)

	toasts := s.notifier.Drain("v1")
	s.Require().Len(toasts, 1)
	s.Equal(notify.LevelWarning, toasts[0].Level)

	// Served from the session without touching the store
	got, err := s.service.Get(s.ctx, "v1")
	s.Require().NoError(err)
	s.Equal(rec, got)
}

func (s *ServiceSuite) TestSetUnexpectedStoreErrorIsInternal() {
	s.mockStore.EXPECT().Find(gomock.Any(), "v1").Return(nil, store.ErrNotFound)
	s.mockStore.EXPECT().Save(gomock.Any(), "v1", gomock.Any()).Return(assert.AnError)

	_, err := s.service.Set(s.ctx, "v1", models.AcceptAll())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestChoiceCounterFailureIsIgnored() {
	s.mockStore.EXPECT().Find(gomock.Any(), "v1").Return(nil, store.ErrNotFound)
	s.mockStore.EXPECT().Save(gomock.Any(), "v1", gomock.Any()).Return(nil)
	s.mockStore.EXPECT().IncrementChoice(gomock.Any(), "v1", "FAM", gomock.Any()).Return(kvstore.ErrQuotaExceeded)
	s.mockListener.EXPECT().ConsentChanged(gomock.Any(), "v1", nil, gomock.Any())

	_, err := s.service.Set(s.ctx, "v1", models.AcceptAll())
	s.NoError(err)
}

func (s *ServiceSuite) TestResetNotifiesWithNilRecord() {
	prev := models.NewRecord(models.AcceptAll(), s.clock.Now())
	s.mockStore.EXPECT().Find(gomock.Any(), "v1").Return(&prev, nil)
	s.mockStore.EXPECT().Delete(gomock.Any(), "v1").Return(nil)
	s.mockListener.EXPECT().ConsentChanged(gomock.Any(), "v1", &prev, nil)

	s.Require().NoError(s.service.Reset(s.ctx, "v1"))
}

func (s *ServiceSuite) TestResetStorageFailureWarns() {
	s.mockStore.EXPECT().Find(gomock.Any(), "v1").Return(nil, store.ErrNotFound)
	s.mockStore.EXPECT().Delete(gomock.Any(), "v1").Return(kvstore.ErrUnavailable)
	s.mockListener.EXPECT().ConsentChanged(gomock.Any(), "v1", nil, nil)

	s.Require().NoError(s.service.Reset(s.ctx, "v1"))
	toasts := s.notifier.Drain("v1")
	s.Require().Len(toasts, 1)
	s.Equal(notify.LevelWarning, toasts[0].Level)
}

func TestServiceWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	svc := New(store.New(kvstore.NewMemory()), discardLogger())

	t.Run("get is idempotent", func(t *testing.T) {
		_, err := svc.Set(ctx, "v1", models.AcceptAll())
		require.NoError(t, err)

		first, err := svc.Get(ctx, "v1")
		require.NoError(t, err)
		second, err := svc.Get(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.True(t, svc.AnalyticsGranted(ctx, "v1"))
	})

	t.Run("reset returns visitor to unset", func(t *testing.T) {
		require.NoError(t, svc.Reset(ctx, "v1"))
		rec, err := svc.Get(ctx, "v1")
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.False(t, svc.AnalyticsGranted(ctx, "v1"))
	})

	t.Run("total default invariant", func(t *testing.T) {
		values := []*bool{nil, boolPtr(true), boolPtr(false)}
		for _, f := range values {
			for _, a := range values {
				for _, m := range values {
					rec, err := svc.Set(ctx, "v2", models.Preferences{Functional: f, Analytics: a, Marketing: m})
					require.NoError(t, err)
					assert.Equal(t, f == nil || *f, rec.Functional)
					assert.Equal(t, a != nil && *a, rec.Analytics)
					assert.Equal(t, m != nil && *m, rec.Marketing)
				}
			}
		}
	})
}

func TestSessionFallbackUntilReset(t *testing.T) {
	ctx := context.Background()
	backend := kvstore.NewMemory(kvstore.WithQuota(10))
	svc := New(store.New(backend), discardLogger())

	rec, err := svc.Set(ctx, "v1", models.AcceptAll())
	require.NoError(t, err)
	assert.True(t, rec.Analytics, "session record still honours the decision")

	got, err := svc.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	require.NoError(t, svc.Reset(ctx, "v1"))
	got, err = svc.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionRecordsExpireAndAreCapped(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 13, 47, 12, 0, time.UTC)
	clk := clock.NewManual(at)
	backend := kvstore.NewMemory(kvstore.WithQuota(10))
	svc := New(store.New(backend), discardLogger(),
		WithClock(clk),
		WithSessionTTL(time.Hour),
		WithSessionLimit(2),
	)

	for _, v := range []string{"v1", "v2", "v3"} {
		_, err := svc.Set(ctx, v, models.AcceptAll())
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	t.Run("oldest record makes room", func(t *testing.T) {
		got, err := svc.Get(ctx, "v1")
		require.NoError(t, err)
		assert.Nil(t, got)

		for _, v := range []string{"v2", "v3"} {
			got, err := svc.Get(ctx, v)
			require.NoError(t, err)
			assert.NotNil(t, got, v)
		}
	})

	t.Run("expired records are ignored then swept", func(t *testing.T) {
		clk.Advance(time.Hour - time.Minute)

		got, err := svc.Get(ctx, "v2")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = svc.Get(ctx, "v3")
		require.NoError(t, err)
		assert.NotNil(t, got)

		assert.Equal(t, 1, svc.SweepSessions(clk.Now()))
		assert.Equal(t, 1, svc.SweepSessions(clk.Now().Add(time.Hour)))
	})
}
