package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matt-hans/shipagent/internal/domain"
	shiperrors "github.com/matt-hans/shipagent/internal/errors"
)

func TestWriteError_ShipErrorMapsRegistryStatus(t *testing.T) {
	cases := []struct {
		code       shiperrors.Code
		wantStatus int
	}{
		{shiperrors.ECodeMissingPostalCode, http.StatusUnprocessableEntity},
		{shiperrors.ECodeCarrierRejected, http.StatusUnprocessableEntity},
		{shiperrors.ECodeCarrierRateLimited, http.StatusTooManyRequests},
		{shiperrors.ECodeCarrierTimeout, http.StatusGatewayTimeout},
		{shiperrors.ECodeCarrierUnknown, http.StatusBadGateway},
		{shiperrors.ECodeCarrierAuthFailed, http.StatusUnauthorized},
		{shiperrors.ECodeAPIKeyInvalid, http.StatusUnauthorized},
		{shiperrors.ECodeSourceUnreadable, http.StatusServiceUnavailable},
		{shiperrors.ECodeStoreFailure, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		err := shiperrors.New(c.code, "detail", nil)
		writeError(rec, req, err, nil)
		assert.Equal(t, c.wantStatus, rec.Result().StatusCode, "code %s", c.code)
	}
}

func TestWriteError_DomainSentinelMapsStatus(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrApprovalMismatch, http.StatusForbidden},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		writeError(rec, req, c.err, nil)
		assert.Equal(t, c.wantStatus, rec.Result().StatusCode)
	}
}
