package httpserver_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/matt-hans/shipagent/internal/adapter/httpserver"
	"github.com/matt-hans/shipagent/internal/config"
	"github.com/matt-hans/shipagent/internal/domain"
)

func newTestServer(store *fakeStore, co *fakeCoordinator) *httpserver.Server {
	if store == nil {
		store = newFakeStore()
	}
	if co == nil {
		co = &fakeCoordinator{}
	}
	return httpserver.NewServer(config.Config{}, co, store, newFakeBus(), &fakeInterpreter{})
}

func newRouter(srv *httpserver.Server) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/v1/jobs", srv.ListJobs)
	r.Get("/v1/jobs/stats", srv.JobStats)
	r.Get("/v1/jobs/{jobID}", srv.GetJob)
	r.Post("/v1/jobs/{jobID}/preview", srv.PreviewJob)
	r.Post("/v1/jobs/{jobID}/approve", srv.ApproveJob)
	r.Post("/v1/jobs/{jobID}/confirm", srv.ConfirmJob)
	r.Post("/v1/jobs/{jobID}/cancel", srv.CancelJob)
	r.Get("/v1/jobs/{jobID}/rows", srv.ListJobRows)
	return r
}

func TestGetJob_Found(t *testing.T) {
	store := newFakeStore()
	store.jobs["job-1"] = domain.Job{ID: "job-1", Status: domain.JobCreated}
	r := newRouter(newTestServer(store, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestGetJob_NotFound(t *testing.T) {
	r := newRouter(newTestServer(nil, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Result().StatusCode)
}

func TestApproveJob_ReturnsTokenOnce(t *testing.T) {
	r := newRouter(newTestServer(nil, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/approve", nil))
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
	assert.Contains(t, rec.Body.String(), "approval_token")
}

func TestConfirmJob_InvalidBody(t *testing.T) {
	r := newRouter(newTestServer(nil, nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/confirm", nil)
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Result().StatusCode)
}

func TestCancelJob(t *testing.T) {
	r := newRouter(newTestServer(nil, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/job-1/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestListJobRows(t *testing.T) {
	store := newFakeStore()
	store.rows["job-1"] = []domain.JobRow{{JobID: "job-1", RowNumber: 1, Status: domain.RowShipped}}
	r := newRouter(newTestServer(store, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/rows", nil))
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
	assert.Contains(t, rec.Body.String(), "\"RowNumber\":1")
}

func TestJobStats(t *testing.T) {
	r := newRouter(newTestServer(newFakeStore(), nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/stats", nil))
	require.Equal(t, http.StatusOK, rec.Result().StatusCode)
	assert.Contains(t, rec.Body.String(), "average_processing_time_seconds")
}
