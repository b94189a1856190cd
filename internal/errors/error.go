package shiperrors

import (
	"errors"
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

// Error wraps a registry Entry with the specific detail and, when the
// failure originated at a carrier, the raw carrier code/message. It
// implements error and unwraps to its cause (nil when none was given) — callers classify via Code, not
// via errors.Is, since a Code is data rather than a sentinel.
type Error struct {
	Entry      Entry
	Detail     string
	RawCode    string
	RawMessage string
	cause      error
}

// New builds an Error for code with the given detail, optionally wrapping
// an underlying cause for logging (never surfaced to the user).
func New(code Code, detail string, cause error) *Error {
	return &Error{Entry: Lookup(code), Detail: detail, cause: cause}
}

// FromCarrier builds an Error for a raw carrier response, classifying it
// into the nearest registry entry. Carriers that report rate limiting or
// timeouts map to the retryable carrier entries; everything else falls
// back to the generic rejection or catch-all entry.
func FromCarrier(rawCode, rawMessage string, retryableHint bool) *Error {
	code := ECodeCarrierUnknown
	switch {
	case retryableHint:
		code = ECodeCarrierRateLimited
	case rawCode != "":
		code = ECodeCarrierRejected
	}
	e := New(code, rawMessage, nil)
	e.RawCode = rawCode
	e.RawMessage = rawMessage
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Entry.Code, e.Entry.Format(e.Detail))
}

func (e *Error) Unwrap() error { return e.cause }

// Record converts e into the domain-level ErrorRecord stored alongside a
// job or row and returned over the REST/SSE surface.
func (e *Error) Record() domain.ErrorRecord {
	return domain.ErrorRecord{
		Code:        string(e.Entry.Code),
		Title:       e.Entry.Title,
		Message:     e.Entry.Format(e.Detail),
		Remediation: e.Entry.Remediation,
		RawCode:     e.RawCode,
		RawMessage:  e.RawMessage,
		Retryable:   e.Entry.Retryable,
	}
}

// Fatal reports whether this error should halt the whole batch rather
// than fail only the current row.
func (e *Error) Fatal() bool { return e.Entry.Fatal }

// As is a small convenience wrapper around errors.As for callers that only
// need to know whether err is (or wraps) a *Error.
func As(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}
