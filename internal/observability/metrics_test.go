package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/carrier"
	"github.com/matt-hans/shipagent/internal/observability"
)

func TestInitMetrics_RegistersOnce(t *testing.T) {
	observability.InitMetrics()
}

func TestHTTPMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	router := chi.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware)
	router.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/abc", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Result().StatusCode)
}

func TestRecordCarrierCall_OkAndError(t *testing.T) {
	observability.RecordCarrierCall("get_rate", 10*time.Millisecond, nil)
	observability.RecordCarrierCall("get_rate", 10*time.Millisecond, errors.New("boom"))
}

func TestJobLifecycleRecorders(t *testing.T) {
	observability.RecordJobCreated()
	observability.RecordJobStarted()
	observability.RecordJobCompleted(4999)
	observability.RecordJobStarted()
	observability.RecordJobFailed()
	observability.RecordJobStarted()
	observability.RecordJobCancelled()
}

func TestRecordRowOutcome(t *testing.T) {
	observability.RecordRowOutcome("shipped")
	observability.RecordRowOutcome("failed")
	observability.RecordRowOutcome("skipped")
}

type fakeCarrierTransport struct{}

func (fakeCarrierTransport) CallTool(_ context.Context, tool string, _ map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestPollCarrierCircuits_DoesNotPanicOnEmptyClient(t *testing.T) {
	client := carrier.NewClient(fakeCarrierTransport{})
	require.NotPanics(t, func() { observability.PollCarrierCircuits(client) })
}
