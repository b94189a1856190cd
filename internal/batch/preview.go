package batch

import (
	"context"
	"fmt"

	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
	shiperrors "github.com/matt-hans/shipagent/internal/errors"
)

// Preview materializes job's rows from its signed FilterSpec, rates up to
// previewMaxRows of them concurrently, and writes the aggregated outcome
// back via SetPreviewResult. Callers must have already moved job to
// `previewing` (the Job Coordinator owns that transition); Preview only
// performs the `previewing` → `previewed`/`failed` half.
func (e *Engine) Preview(ctx context.Context, job domain.Job) error {
	filterSpec, err := e.store.GetFilter(ctx, job.ID)
	if err != nil {
		return e.failPreview(ctx, job.ID, fmt.Errorf("op=batch.preview.get_filter: %w", err))
	}

	rows, err := e.materializeRows(ctx, job.ID, filterSpec)
	if err != nil {
		return e.failPreview(ctx, job.ID, err)
	}
	if err := e.store.InsertRows(ctx, rows); err != nil {
		return e.failPreview(ctx, job.ID, fmt.Errorf("op=batch.preview.insert_rows: %w", err))
	}

	toRate := rows
	if e.previewMaxRows > 0 && len(toRate) > e.previewMaxRows {
		toRate = toRate[:e.previewMaxRows]
	}

	if err := acquireAll(ctx, e.concurrency, toRate, func(ctx context.Context, r domain.JobRow) {
		e.rateRow(ctx, job, r)
	}); err != nil {
		return e.failPreview(ctx, job.ID, err)
	}

	counts, previewCost, err := e.aggregatePreview(ctx, job.ID)
	if err != nil {
		return e.failPreview(ctx, job.ID, err)
	}

	if err := e.store.SetPreviewResult(ctx, job.ID, counts, previewCost, domain.JobPreviewed); err != nil {
		return fmt.Errorf("op=batch.preview.set_result: %w", err)
	}

	e.publish(ctx, domain.EventPreviewReady, job.ID, 0, map[string]any{
		"counts":      counts,
		"previewCost": previewCost,
	})
	_ = e.store.AppendAudit(ctx, domain.AuditEntry{
		JobID: job.ID, Kind: domain.AuditPreviewReady,
		Detail: map[string]any{"total": counts.Total, "previewCost": previewCost},
	})
	return nil
}

func (e *Engine) failPreview(ctx context.Context, jobID string, cause error) error {
	_ = e.store.SetPreviewResult(ctx, jobID, domain.RowCounts{}, 0, domain.JobFailed)
	e.publish(ctx, domain.EventJobFailed, jobID, 0, map[string]any{"error": cause.Error()})
	return cause
}

// materializeRows verifies spec's signature against the process secret —
// rejecting with ECodeFilterUnsigned on any mismatch — before streaming the
// source rows it matches and computing each one's stable content checksum.
// No WHERE clause ever reaches the data gateway unverified.
func (e *Engine) materializeRows(ctx context.Context, jobID string, spec domain.FilterSpec) ([]domain.JobRow, error) {
	if err := e.compiler.Verify(spec); err != nil {
		return nil, shiperrors.New(shiperrors.ECodeFilterUnsigned, fmt.Sprintf("job %s", jobID), err)
	}

	var rows []domain.JobRow
	err := e.gateway.QueryRows(ctx, spec.WhereClause, func(r datagateway.Row) error {
		sum, err := checksum(r.Data)
		if err != nil {
			return err
		}
		rows = append(rows, domain.JobRow{
			JobID: jobID, RowNumber: r.Number, SourceChecksum: sum,
			SourceData: r.Data, Status: domain.RowPending,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=batch.materialize: %w", err)
	}
	return rows, nil
}

// rateRow rates a single row, transitioning it pending → rated on success
// or pending → failed on a rating error. Rating is never skip-safe in
// itself — a rating failure just means this row is excluded from the
// aggregate, not that the batch stops.
func (e *Engine) rateRow(ctx context.Context, job domain.Job, row domain.JobRow) {
	order, err := toOrderRecord(datagateway.Row{Number: row.RowNumber, Data: row.SourceData})
	if err != nil {
		e.markRowFailed(ctx, job.ID, row.RowNumber, domain.RowPending, err)
		return
	}
	if err := e.checkInternationalLane(order); err != nil {
		e.markRowFailed(ctx, job.ID, row.RowNumber, domain.RowPending, err)
		return
	}

	rate, err := e.carrier.GetRate(ctx, order, job.ServiceCode, job.Shipper)
	if err != nil {
		e.markRowFailed(ctx, job.ID, row.RowNumber, domain.RowPending, err)
		return
	}

	at := nowUTC()
	if err := e.store.TransitionRow(ctx, job.ID, row.RowNumber, domain.RowPending, domain.RowRated, func(r *domain.JobRow) {
		r.RatedCost = rate.TotalChargesAmount
		r.ServiceCode = rate.ServiceCode
		r.RatedAt = &at
	}); err != nil {
		logRowError("batch.rate_row.transition", job.ID, row.RowNumber, err)
		return
	}
	e.publish(ctx, domain.EventRowRated, job.ID, row.RowNumber, map[string]any{"ratedCost": rate.TotalChargesAmount})
}

func (e *Engine) markRowFailed(ctx context.Context, jobID string, rowNumber int, from domain.RowStatus, cause error) {
	record := recordFromError(cause)
	if err := e.store.TransitionRow(ctx, jobID, rowNumber, from, domain.RowFailed, func(r *domain.JobRow) {
		r.Error = &record
	}); err != nil {
		logRowError("batch.mark_row_failed", jobID, rowNumber, err)
		return
	}
	e.publish(ctx, domain.EventRowFailed, jobID, rowNumber, map[string]any{"error": record.Message})
}

func recordFromError(err error) domain.ErrorRecord {
	if se, ok := shiperrors.As(err); ok {
		return se.Record()
	}
	return domain.ErrorRecord{Code: string(shiperrors.ECodeCarrierUnknown), Message: err.Error()}
}

// aggregatePreview sums rated costs and tallies row counts across the
// whole materialized row set, not just the sample that was actually rated.
func (e *Engine) aggregatePreview(ctx context.Context, jobID string) (domain.RowCounts, int64, error) {
	var counts domain.RowCounts
	var previewCost int64
	err := e.store.IterRows(ctx, jobID, func(r domain.JobRow) error {
		counts.Total++
		switch r.Status {
		case domain.RowRated:
			previewCost += r.RatedCost
			counts.Succeeded++
		case domain.RowFailed:
			counts.Failed++
		case domain.RowSkipped:
			counts.Skipped++
		default:
			counts.Pending++
		}
		return nil
	})
	if err != nil {
		return domain.RowCounts{}, 0, fmt.Errorf("op=batch.aggregate_preview: %w", err)
	}
	return counts, previewCost, nil
}
