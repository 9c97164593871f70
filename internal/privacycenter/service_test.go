package privacycenter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	analyticsservice "ilm/internal/analytics/service"
	analyticsstore "ilm/internal/analytics/store"
	"ilm/internal/audit"
	consentmodels "ilm/internal/consent/models"
	consentservice "ilm/internal/consent/service"
	consentstore "ilm/internal/consent/store"
	"ilm/internal/notify"
	"ilm/internal/platform/kvstore"
	"ilm/internal/platform/middleware"
	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/platform/clock"
)

const visitor = "v1"

type PrivacyCenterSuite struct {
	suite.Suite
	kv       *kvstore.Memory
	ns       kvstore.Store
	consent  *consentservice.Service
	notifier *notify.Queue
	trail    *audit.Publisher
	service  *Service
	ctx      context.Context
}

func (s *PrivacyCenterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := clock.NewManual(time.Date(2024, 1, 15, 13, 47, 12, 0, time.UTC))
	s.ctx = context.Background()
	s.kv = kvstore.NewMemory()
	s.ns = kvstore.Namespace(s.kv, visitor)
	s.notifier = notify.NewQueue()
	s.consent = consentservice.New(consentstore.New(s.kv), logger, consentservice.WithClock(c))
	analytics := analyticsservice.New(analyticsstore.New(s.kv), s.kv, s.consent, logger, analyticsservice.WithClock(c))
	s.consent.Subscribe(analytics)
	s.trail = audit.NewPublisher(audit.NewInMemoryStore())
	s.consent.Subscribe(s.trail)
	s.service = New(s.kv, analytics, s.consent, logger, WithNotifier(s.notifier), WithAudit(s.trail))
}

func TestPrivacyCenterSuite(t *testing.T) {
	suite.Run(t, new(PrivacyCenterSuite))
}

func (s *PrivacyCenterSuite) set(key, value string) {
	s.Require().NoError(s.ns.Set(s.ctx, key, value))
}

func (s *PrivacyCenterSuite) TestExportNotifies() {
	_, err := s.consent.Set(s.ctx, visitor, consentmodels.AcceptAll())
	s.Require().NoError(err)
	s.notifier.Drain(visitor)

	export, err := s.service.Export(s.ctx, visitor)
	s.Require().NoError(err)
	s.True(export.ConsentPreferences.Analytics)
	s.Contains(export.LocalStorage, consentstore.LegacyKey)

	pending := s.notifier.Drain(visitor)
	s.Require().Len(pending, 1)
	s.Equal(notify.LevelSuccess, pending[0].Level)
}

func (s *PrivacyCenterSuite) TestViewStoredFiltersKeys() {
	s.set("gdpr-consent", "{}")
	s.set("ilm-cache-version", CacheVersion)
	s.set("user-preferences", "dark")
	s.set("other", "x")

	data, err := s.service.ViewStored(s.ctx, visitor)
	s.Require().NoError(err)
	s.Equal(map[string]string{"gdpr-consent": "{}", "ilm-cache-version": CacheVersion}, data)
}

func (s *PrivacyCenterSuite) TestDeleteAll() {
	_, err := s.consent.Set(s.ctx, visitor, consentmodels.AcceptAll())
	s.Require().NoError(err)
	s.set("ilm-cache-version", CacheVersion)
	s.set("user-preferences", "dark")
	s.set("other", "x")
	s.Require().NoError(kvstore.Namespace(s.kv, "v2").Set(s.ctx, "user-preferences", "light"))

	_, err = s.service.DeleteAll(s.ctx, visitor)
	s.Require().NoError(err)

	keys, err := s.ns.Keys(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"other"}, keys)

	rec, err := s.consent.Get(s.ctx, visitor)
	s.Require().NoError(err)
	s.Nil(rec, "consent is asked again")

	_, err = kvstore.Namespace(s.kv, "v2").Get(s.ctx, "user-preferences")
	s.NoError(err, "other visitors are untouched")
}

func (s *PrivacyCenterSuite) TestHistoryKeepsTrailAfterDelete() {
	_, err := s.consent.Set(s.ctx, visitor, consentmodels.AcceptAll())
	s.Require().NoError(err)
	_, err = s.service.Export(s.ctx, visitor)
	s.Require().NoError(err)
	_, err = s.service.DeleteAll(s.ctx, visitor)
	s.Require().NoError(err)

	events, err := s.service.History(s.ctx, visitor)
	s.Require().NoError(err)
	actions := make([]audit.Action, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	s.Equal([]audit.Action{
		audit.ActionConsentRecorded,
		audit.ActionDataExported,
		audit.ActionConsentReset,
		audit.ActionDataDeleted,
	}, actions)
	s.Equal(string(consentmodels.StateAcceptedAll), events[0].Consent)

	other, err := s.service.History(s.ctx, "v2")
	s.Require().NoError(err)
	s.Empty(other)
}

func (s *PrivacyCenterSuite) TestHistoryWithoutTrail() {
	svc := New(s.kv, nil, s.consent, slog.New(slog.NewTextHandler(io.Discard, nil)))
	events, err := svc.History(s.ctx, visitor)
	s.Require().NoError(err)
	s.Empty(events)

	_, err = svc.History(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *PrivacyCenterSuite) TestCookieCounts() {
	tests := []struct {
		name  string
		prefs *consentmodels.Preferences
		want  CookieCounts
	}{
		{"no decision", nil, CookieCounts{Necessary: 2}},
		{"declined", ptr(consentmodels.DeclineAll()), CookieCounts{Necessary: 2}},
		{"accepted", ptr(consentmodels.AcceptAll()), CookieCounts{Necessary: 2, Functional: 2, Analytics: 3, Marketing: 5}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Require().NoError(s.consent.Reset(s.ctx, visitor))
			if tt.prefs != nil {
				_, err := s.consent.Set(s.ctx, visitor, *tt.prefs)
				s.Require().NoError(err)
			}
			got, err := s.service.CookieCounts(s.ctx, visitor)
			s.Require().NoError(err)
			s.Equal(tt.want, got)
		})
	}
}

func (s *PrivacyCenterSuite) TestMaintainCache() {
	s.set("ilm-cache-version", "v2023-11-02")
	s.set("ilm-cache-styles", "old")
	s.set("website-cache-home", "old")
	s.set("ilm_consent", "{}")

	before, err := s.service.CacheStatus(s.ctx, visitor)
	s.Require().NoError(err)
	s.False(before.Current)

	status, err := s.service.MaintainCache(s.ctx, visitor)
	s.Require().NoError(err)
	s.Equal(CacheStatus{Version: CacheVersion, Previous: "v2023-11-02", Current: true, Cleared: 2}, status)

	keys, err := s.ns.Keys(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"ilm-cache-version", "ilm_consent"}, keys)

	after, err := s.service.CacheStatus(s.ctx, visitor)
	s.Require().NoError(err)
	s.True(after.Current)
}

func (s *PrivacyCenterSuite) TestMaintainCacheStorageBlocked() {
	s.kv.Disable()
	_, err := s.service.MaintainCache(s.ctx, visitor)
	s.True(dErrors.HasCode(err, dErrors.CodeStorageUnavailable))
}

func (s *PrivacyCenterSuite) TestHandlerRoutes() {
	r := chi.NewRouter()
	NewHandler(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		ctx := middleware.WithVisitor(req.Context(), visitor)
		ctx = clock.WithTime(ctx, time.Date(2024, 1, 15, 13, 47, 12, 0, time.UTC))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req.WithContext(ctx))
		return w
	}

	s.Run("export is an attachment", func() {
		w := do(http.MethodGet, "/privacy/export")
		s.Equal(http.StatusOK, w.Code)
		s.Equal(`attachment; filename="ilm-user-data-2024-01-15.json"`, w.Header().Get("Content-Disposition"))
	})

	s.Run("cookies", func() {
		w := do(http.MethodGet, "/privacy/cookies")
		s.Equal(http.StatusOK, w.Code)
		s.JSONEq(`{"necessary":2,"functional":0,"analytics":0,"marketing":0}`, w.Body.String())
	})

	s.Run("cache maintenance then stored view", func() {
		s.Equal(http.StatusOK, do(http.MethodPost, "/privacy/cache").Code)

		w := do(http.MethodGet, "/privacy/stored")
		s.Equal(http.StatusOK, w.Code)
		var resp StoredResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal(CacheVersion, resp.Data[CacheVersionKey])
	})

	s.Run("delete", func() {
		w := do(http.MethodDelete, "/privacy/data")
		s.Equal(http.StatusOK, w.Code)
		s.JSONEq(`{"deleted":1}`, w.Body.String())
	})

	s.Run("history", func() {
		w := do(http.MethodGet, "/privacy/history")
		s.Equal(http.StatusOK, w.Code)
		var resp HistoryResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Require().NotEmpty(resp.Events)
		s.Equal(audit.ActionDataExported, resp.Events[0].Action)
		s.Equal(audit.ActionDataDeleted, resp.Events[len(resp.Events)-1].Action)
	})
}

func ptr[T any](v T) *T { return &v }
