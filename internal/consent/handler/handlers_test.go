package handler

import (
	"bytes"
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
	"go.uber.org/mock/gomock"

	"ilm/internal/consent/handler/mocks"
	"ilm/internal/consent/models"
	"ilm/internal/platform/middleware"
	dErrors "ilm/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/consent-mocks.go -package=mocks Service

const testVisitor = "9b2f6a3e-6c1d-4a59-9a0e-5f4f1d2c7b11"

type ConsentHandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  chi.Router
}

func (s *ConsentHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func TestConsentHandlerSuite(t *testing.T) {
	suite.Run(t, new(ConsentHandlerSuite))
}

func (s *ConsentHandlerSuite) do(method, body string, withVisitor bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, "/consent", reader)
	if withVisitor {
		req = req.WithContext(middleware.WithVisitor(req.Context(), testVisitor))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *ConsentHandlerSuite) assertError(w *httptest.ResponseRecorder, status int, code string) {
	s.Equal(status, w.Code)
	var resp map[string]string
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(code, resp["error"])
}

func (s *ConsentHandlerSuite) TestGet() {
	s.Run("unset visitor returns 404", func() {
		s.service.EXPECT().Get(gomock.Any(), testVisitor).Return(nil, nil)
		s.assertError(s.do(http.MethodGet, "", true), http.StatusNotFound, "not_found")
	})

	s.Run("returns record with derived state", func() {
		rec := models.NewRecord(models.AcceptAll(), time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC))
		s.service.EXPECT().Get(gomock.Any(), testVisitor).Return(&rec, nil)

		w := s.do(http.MethodGet, "", true)
		s.Equal(http.StatusOK, w.Code)
		var resp Response
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal(models.StateAcceptedAll, resp.State)
		s.True(resp.Consent.Marketing)
	})

	s.Run("missing visitor context is internal", func() {
		s.assertError(s.do(http.MethodGet, "", false), http.StatusInternalServerError, "internal_error")
	})
}

func (s *ConsentHandlerSuite) TestSet() {
	s.Run("passes partial preferences through", func() {
		analytics := true
		s.service.EXPECT().
			Set(gomock.Any(), testVisitor, models.Preferences{Analytics: &analytics}).
			DoAndReturn(func(_ context.Context, _ string, p models.Preferences) (*models.Record, error) {
				rec := models.NewRecord(p, time.Now())
				return &rec, nil
			})

		w := s.do(http.MethodPut, `{"analytics":true}`, true)
		s.Equal(http.StatusOK, w.Code)
		var resp Response
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal(models.StateCustomized, resp.State)
		s.True(resp.Consent.Functional)
	})

	s.Run("malformed body is 400", func() {
		s.assertError(s.do(http.MethodPut, `{"analytics":`, true), http.StatusBadRequest, "bad_request")
	})

	s.Run("service error is mapped", func() {
		s.service.EXPECT().Set(gomock.Any(), testVisitor, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInternal, "failed to save consent"))
		s.assertError(s.do(http.MethodPut, `{}`, true), http.StatusInternalServerError, "internal_error")
	})
}

func (s *ConsentHandlerSuite) TestReset() {
	s.service.EXPECT().Reset(gomock.Any(), testVisitor).Return(nil)
	w := s.do(http.MethodDelete, "", true)
	s.Equal(http.StatusNoContent, w.Code)
}
