// Package httpserver contains the REST/SSE surface: conversation sessions,
// job lifecycle endpoints, progress streaming, label downloads, and health
// checks.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matt-hans/shipagent/internal/domain"
	shiperrors "github.com/matt-hans/shipagent/internal/errors"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
	Retryable   bool        `json:"retryable,omitempty"`
	Details     interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes r's body into dst, rejecting unknown fields so typos
// in a request surface as a 400 instead of silently being ignored.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// shipErrorStatus maps a registry code to its HTTP status. Per-row
// validation and carrier-rejection codes are client-correctable (4xx);
// data and system codes are fatal to the batch and surface as 5xx;
// carrier throttling/timeouts get their own conventional codes so
// retry-aware clients can branch on status alone.
func shipErrorStatus(code shiperrors.Code) int {
	switch code {
	case shiperrors.ECodeMissingPostalCode, shiperrors.ECodeOversizeWeight,
		shiperrors.ECodeHSCodeRequired, shiperrors.ECodeInvalidAddress,
		shiperrors.ECodeCarrierRejected:
		return http.StatusUnprocessableEntity
	case shiperrors.ECodeCarrierRateLimited:
		return http.StatusTooManyRequests
	case shiperrors.ECodeCarrierTimeout:
		return http.StatusGatewayTimeout
	case shiperrors.ECodeCarrierUnknown:
		return http.StatusBadGateway
	case shiperrors.ECodeCarrierAuthFailed, shiperrors.ECodeAPIKeyInvalid:
		return http.StatusUnauthorized
	case shiperrors.ECodeSourceUnreadable, shiperrors.ECodeSchemaMismatch,
		shiperrors.ECodeSignatureDrift, shiperrors.ECodeStoreFailure,
		shiperrors.ECodeTransportFailure, shiperrors.ECodeSingleWriter:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into a structured JSON error envelope, per §7:
// "the REST/SSE surface receives structured error objects, never raw text."
// A *shiperrors.Error carries its own stable code/title/remediation; any
// other error is classified by domain sentinel, falling back to 500.
func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	if se, ok := shiperrors.As(err); ok {
		rec := se.Record()
		writeJSON(w, shipErrorStatus(se.Entry.Code), errorEnvelope{Error: apiError{
			Code: rec.Code, Message: rec.Message, Remediation: rec.Remediation,
			Retryable: rec.Retryable, Details: details,
		}})
		return
	}

	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrStaleTransition),
		errors.Is(err, domain.ErrGenerationMismatch), errors.Is(err, domain.ErrRunningJobExists):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrApprovalMismatch):
		status, code = http.StatusForbidden, "APPROVAL_MISMATCH"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrSignatureDrift):
		status, code = http.StatusConflict, "SIGNATURE_DRIFT"
	case errors.Is(err, domain.ErrUnsignedFilter):
		status, code = http.StatusBadRequest, "FILTER_UNSIGNED"
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error(), Details: details}})
}
