package app_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/matt-hans/shipagent/internal/adapter/httpserver"
	"github.com/matt-hans/shipagent/internal/app"
	"github.com/matt-hans/shipagent/internal/config"
	"github.com/matt-hans/shipagent/internal/coordinator"
	"github.com/matt-hans/shipagent/internal/domain"
)

type fakeCoordinator struct{}

func (fakeCoordinator) CreateJob(domain.Context, coordinator.CreateJobParams) (domain.Job, error) {
	return domain.Job{}, nil
}
func (fakeCoordinator) Refine(domain.Context, string, string, map[string]any) (domain.Job, error) {
	return domain.Job{}, nil
}
func (fakeCoordinator) Preview(domain.Context, string) (domain.Job, error) { return domain.Job{}, nil }
func (fakeCoordinator) Approve(domain.Context, string) (domain.Job, string, error) {
	return domain.Job{}, "", nil
}
func (fakeCoordinator) Confirm(domain.Context, string, string) (domain.Job, error) {
	return domain.Job{}, nil
}
func (fakeCoordinator) Cancel(domain.Context, string) (domain.Job, error) { return domain.Job{}, nil }

type fakeStore struct{}

func (fakeStore) GetJob(_ domain.Context, jobID string) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}
func (fakeStore) ListJobs(domain.Context, domain.JobListFilter) ([]domain.Job, int, error) {
	return nil, 0, nil
}
func (fakeStore) GetRow(domain.Context, string, int) (domain.JobRow, error) {
	return domain.JobRow{}, nil
}
func (fakeStore) IterRows(domain.Context, string, func(domain.JobRow) error) error { return nil }
func (fakeStore) ListAudit(domain.Context, string) ([]domain.AuditEntry, error)    { return nil, nil }
func (fakeStore) AverageProcessingTime(domain.Context) (float64, error)          { return 0, nil }

type fakeSubscription struct{ ch chan domain.Event }

func (s fakeSubscription) Events() <-chan domain.Event { return s.ch }
func (s fakeSubscription) Close()                       {}

type fakeBus struct{}

func (fakeBus) Subscribe(string) domain.Subscription {
	return fakeSubscription{ch: make(chan domain.Event)}
}

type fakeInterpreter struct{}

func (fakeInterpreter) Interpret(domain.Context, string, string) (httpserver.InterpretedCommand, error) {
	return httpserver.InterpretedCommand{}, nil
}

func TestBuildRouter_HealthAndReadyz(t *testing.T) {
	cfg := config.Config{RateLimitPerMin: 30}
	srv := httpserver.NewServer(cfg, fakeCoordinator{}, fakeStore{}, fakeBus{}, fakeInterpreter{})
	h := app.BuildRouter(cfg, srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Result().StatusCode)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec2.Result().StatusCode)
}

func TestBuildRouter_JobNotFound(t *testing.T) {
	cfg := config.Config{RateLimitPerMin: 30}
	srv := httpserver.NewServer(cfg, fakeCoordinator{}, fakeStore{}, fakeBus{}, fakeInterpreter{})
	h := app.BuildRouter(cfg, srv)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Result().StatusCode)
}
