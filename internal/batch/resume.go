package batch

import (
	"context"
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

// ResumeRunning re-enters Execute mode for a job the process finds in
// `running` status at startup. Rows already terminal are left alone. Rows
// caught mid-flight in `shipping` cannot be proven either shipped or not
// without an idempotency-key lookup the carrier subprocess does not
// expose, so each is marked failed with a failed-indeterminate detail and
// surfaced for human resolution rather than guessed at; Execute mode then
// continues over whatever remains `pending`/`rated`.
func (e *Engine) ResumeRunning(ctx context.Context, job domain.Job) error {
	var inFlight []domain.JobRow
	err := e.store.IterRows(ctx, job.ID, func(r domain.JobRow) error {
		if r.Status == domain.RowShipping {
			inFlight = append(inFlight, r)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=batch.resume.scan: %w", err)
	}

	for _, r := range inFlight {
		record := domain.ErrorRecord{
			Code:    "E-3999",
			Title:   "Shipment outcome indeterminate after crash",
			Message: "failed-indeterminate: process crashed mid-dispatch; carrier outcome could not be confirmed",
		}
		if err := e.store.TransitionRow(ctx, job.ID, r.RowNumber, domain.RowShipping, domain.RowFailed, func(row *domain.JobRow) {
			row.Error = &record
		}); err != nil {
			logRowError("batch.resume.mark_indeterminate", job.ID, r.RowNumber, err)
			continue
		}
		e.publish(ctx, domain.EventRowFailed, job.ID, r.RowNumber, map[string]any{"error": record.Message})
	}

	_ = e.store.AppendAudit(ctx, domain.AuditEntry{
		JobID: job.ID, Kind: domain.AuditCrashRecovered,
		Detail: map[string]any{"indeterminateRows": len(inFlight)},
	})

	return e.Execute(ctx, job)
}

// RematerializeIfEmpty re-materializes a job's row set when it was left
// `approved` with no rows yet — the gap between approval and the first
// InsertRows call, if a crash landed there.
func (e *Engine) RematerializeIfEmpty(ctx context.Context, job domain.Job) error {
	var count int
	if err := e.store.IterRows(ctx, job.ID, func(domain.JobRow) error {
		count++
		return nil
	}); err != nil {
		return fmt.Errorf("op=batch.rematerialize.scan: %w", err)
	}
	if count > 0 {
		return nil
	}

	filterSpec, err := e.store.GetFilter(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("op=batch.rematerialize.get_filter: %w", err)
	}
	rows, err := e.materializeRows(ctx, job.ID, filterSpec)
	if err != nil {
		return fmt.Errorf("op=batch.rematerialize: %w", err)
	}
	if err := e.store.InsertRows(ctx, rows); err != nil {
		return fmt.Errorf("op=batch.rematerialize.insert: %w", err)
	}
	return nil
}
