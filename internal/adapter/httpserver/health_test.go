package httpserver_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/domain"
)

func TestHealth_AlwaysOK(t *testing.T) {
	srv := newTestServer(nil, nil)
	r := chi.NewRouter()
	r.Get("/health", srv.Health)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestReadyz_OKWhenAllProbesPass(t *testing.T) {
	srv := newTestServer(nil, nil)
	srv.DataSourceReady = func(domain.Context) error { return nil }
	srv.CarrierReady = func(domain.Context) error { return nil }
	srv.StoreReady = func(domain.Context) error { return nil }
	r := chi.NewRouter()
	r.Get("/readyz", srv.Readyz)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestReadyz_FailsIfCarrierSubprocessNotReady(t *testing.T) {
	srv := newTestServer(nil, nil)
	srv.DataSourceReady = func(domain.Context) error { return nil }
	srv.CarrierReady = func(domain.Context) error { return errors.New("carrier subprocess not connected") }
	r := chi.NewRouter()
	r.Get("/readyz", srv.Readyz)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Result().StatusCode)
}
