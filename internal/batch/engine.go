package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/matt-hans/shipagent/internal/carrier"
	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
	shiperrors "github.com/matt-hans/shipagent/internal/errors"
	"github.com/matt-hans/shipagent/internal/filter"
)

// skipSafeCodes are error codes whose row failure does not trip fail-fast:
// they indicate a problem with this one row's data, not a systemic or
// carrier-wide failure, so the rest of the batch is still worth attempting.
var skipSafeCodes = map[shiperrors.Code]bool{
	shiperrors.ECodeMissingPostalCode: true,
	shiperrors.ECodeInvalidAddress:    true,
	shiperrors.ECodeHSCodeRequired:    true,
	shiperrors.ECodeOversizeWeight:    true,
	shiperrors.ECodeLaneDisabled:      true,
}

// isSkipSafe reports whether err should only skip its row rather than
// trip the fail-fast gate for the whole batch.
func isSkipSafe(err error) bool {
	se, ok := shiperrors.As(err)
	if !ok {
		return false
	}
	return skipSafeCodes[se.Entry.Code]
}

// Engine is the Batch Engine (C6): the concurrent rate/ship fan-out over
// an approved Job's materialized rows.
type Engine struct {
	store     domain.Store
	gateway   *datagateway.Gateway
	carrier   *carrier.Client
	publisher domain.Publisher
	compiler  *filter.Compiler

	concurrency              int
	previewMaxRows           int
	labelsDir                string
	internationalLaneAllowed func(destCountryISO string) bool
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithConcurrency overrides the default per-row dispatch semaphore width.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithPreviewMaxRows overrides the default preview rating cap (0 = unlimited).
func WithPreviewMaxRows(n int) Option {
	return func(e *Engine) { e.previewMaxRows = n }
}

// WithLabelsDir overrides where shipped rows' label bytes are written.
func WithLabelsDir(dir string) Option {
	return func(e *Engine) {
		if dir != "" {
			e.labelsDir = dir
		}
	}
}

// WithInternationalLaneCheck overrides the default permit-all international
// lane gate with allowed, checked against a row's destination country
// whenever that destination differs from the shipper's origin country.
func WithInternationalLaneCheck(allowed func(destCountryISO string) bool) Option {
	return func(e *Engine) {
		if allowed != nil {
			e.internationalLaneAllowed = allowed
		}
	}
}

// NewEngine constructs an Engine over its external-facing collaborators
// and the in-process Event Bus. compiler is used to verify every job's
// FilterSpec signature before its WHERE clause is ever handed to the
// data gateway.
func NewEngine(store domain.Store, gateway *datagateway.Gateway, cc *carrier.Client, publisher domain.Publisher, compiler *filter.Compiler, opts ...Option) *Engine {
	e := &Engine{
		store:                    store,
		gateway:                  gateway,
		carrier:                  cc,
		publisher:                publisher,
		compiler:                 compiler,
		concurrency:              5,
		previewMaxRows:           50,
		labelsDir:                "./data/labels",
		internationalLaneAllowed: func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// checkInternationalLane rejects order when it crosses a border to a
// destination not on the configured international lane whitelist (§6).
// Domestic orders (empty or matching countries) are never gated.
func (e *Engine) checkInternationalLane(order domain.OrderRecord) error {
	if order.To.CountryISO == "" || order.To.CountryISO == order.From.CountryISO {
		return nil
	}
	if e.internationalLaneAllowed(order.To.CountryISO) {
		return nil
	}
	return shiperrors.New(shiperrors.ECodeLaneDisabled, order.To.CountryISO, nil)
}

func (e *Engine) publish(ctx context.Context, kind domain.EventKind, jobID string, rowNumber int, payload map[string]any) {
	e.publisher.Publish(ctx, domain.Event{
		Kind: kind, JobID: jobID, RowNumber: rowNumber, Payload: payload, At: nowUTC(),
	})
}

func (e *Engine) writeLabel(jobID string, rowNumber int, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(e.labelsDir, 0o755); err != nil {
		return "", fmt.Errorf("op=batch.write_label.mkdir: %w", err)
	}
	name := fmt.Sprintf("%s-row-%d.label", jobID, rowNumber)
	path := filepath.Join(e.labelsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("op=batch.write_label.write: %w", err)
	}
	return path, nil
}

// acquireAll runs fn for every item in items, bounded by a weighted
// semaphore of width e.concurrency. It always waits for every already-
// dispatched goroutine to finish before returning, even when a later
// Acquire fails because ctx was cancelled mid-dispatch — a cancelled
// batch must let in-flight rows drain, never abandon them, so the wait
// must never depend on every item having been launched.
func acquireAll[T any](ctx context.Context, concurrency int, items []T, fn func(context.Context, T)) error {
	sem := semaphore.NewWeighted(int64(concurrency))
	done := make(chan struct{}, len(items))
	launched := 0
	var acquireErr error
	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = fmt.Errorf("op=batch.acquire_all: %w", err)
			break
		}
		launched++
		go func(it T) {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			fn(ctx, it)
		}(item)
	}
	for i := 0; i < launched; i++ {
		<-done
	}
	return acquireErr
}

func nowUTC() time.Time { return time.Now().UTC() }

func logRowError(op, jobID string, rowNumber int, err error) {
	slog.Warn("batch row operation failed",
		slog.String("op", op), slog.String("job_id", jobID),
		slog.Int("row_number", rowNumber), slog.Any("error", err))
}
