package batch

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/matt-hans/shipagent/internal/domain"
)

// Execute runs Execute mode over job's still-open rows under the
// configured concurrency bound. Preconditions (approved status, approval
// token, source signature, generation) are the Job Coordinator's
// responsibility to check before calling Execute — by the time this runs,
// job is assumed already in `running`. Execute writes the final job
// transition (`completed`, `failed`, or `cancelled`) itself, in the same
// call that records the aggregate counters and cost.
//
// ctx is the dispatch-gating context: the Job Coordinator cancels it to
// signal a user-requested cancel, stopping new dispatches while in-flight
// rows finish. Every store write and carrier call Execute itself makes
// uses a context stripped of that cancellation (context.WithoutCancel) —
// a cancel signal must never abort a persistence write or abandon a
// mutating carrier call already on the wire.
func (e *Engine) Execute(ctx context.Context, job domain.Job) error {
	storeCtx := context.WithoutCancel(ctx)

	rows, err := e.openRows(storeCtx, job.ID)
	if err != nil {
		return e.failExecute(storeCtx, job.ID, fmt.Errorf("op=batch.execute.load_rows: %w", err))
	}

	var tripped atomic.Bool
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = acquireAll(runCtx, e.concurrency, rows, func(dispatchCtx context.Context, r domain.JobRow) {
		if tripped.Load() || dispatchCtx.Err() != nil {
			e.skipRow(storeCtx, job.ID, r)
			return
		}
		failed := e.shipRow(storeCtx, job, r)
		if failed != nil && job.FailFast && !isSkipSafe(failed) {
			if tripped.CompareAndSwap(false, true) {
				cancel()
			}
		}
	})
	cancelledByCaller := ctx.Err() != nil
	if err != nil && !cancelledByCaller && !tripped.Load() {
		return e.failExecute(storeCtx, job.ID, fmt.Errorf("op=batch.execute.dispatch: %w", err))
	}

	if tripped.Load() || cancelledByCaller {
		if err := e.skipRemaining(storeCtx, job.ID); err != nil {
			logRowError("batch.execute.skip_remaining", job.ID, 0, err)
		}
	}

	counts, aggregateCost, lastErr, err := e.aggregateExecute(storeCtx, job.ID)
	if err != nil {
		return e.failExecute(storeCtx, job.ID, err)
	}

	to := domain.JobCompleted
	switch {
	case cancelledByCaller:
		to = domain.JobCancelled
		lastErr = nil
	case counts.Failed > 0 && job.FailFast:
		to = domain.JobFailed
	}
	if err := e.store.CompleteJob(storeCtx, job.ID, to, counts, aggregateCost, lastErr); err != nil {
		return fmt.Errorf("op=batch.execute.complete: %w", err)
	}

	var kind domain.EventKind
	var auditKind string
	switch to {
	case domain.JobFailed:
		kind, auditKind = domain.EventJobFailed, domain.AuditJobFailed
	case domain.JobCancelled:
		kind, auditKind = domain.EventJobStatus, domain.AuditJobCancelled
	default:
		kind, auditKind = domain.EventJobCompleted, domain.AuditJobCompleted
	}
	e.publish(storeCtx, kind, job.ID, 0, map[string]any{"status": string(to), "counts": counts, "aggregateCost": aggregateCost})
	_ = e.store.AppendAudit(storeCtx, domain.AuditEntry{JobID: job.ID, Kind: auditKind, Detail: map[string]any{"counts": counts}})
	return nil
}

func (e *Engine) failExecute(ctx context.Context, jobID string, cause error) error {
	record := recordFromError(cause)
	_ = e.store.CompleteJob(ctx, jobID, domain.JobFailed, domain.RowCounts{}, 0, &record)
	e.publish(ctx, domain.EventJobFailed, jobID, 0, map[string]any{"error": cause.Error()})
	return cause
}

// openRows returns every row still in `pending` or `rated`, ordered by
// row-number, the set Execute mode is responsible for.
func (e *Engine) openRows(ctx context.Context, jobID string) ([]domain.JobRow, error) {
	var rows []domain.JobRow
	err := e.store.IterRows(ctx, jobID, func(r domain.JobRow) error {
		if r.Status == domain.RowPending || r.Status == domain.RowRated {
			rows = append(rows, r)
		}
		return nil
	})
	return rows, err
}

// shipRow runs the serial transition → call → transition sequence for one
// row: pending|rated → shipping (storing the payload snapshot) → shipped
// or failed. Returns the classification error on failure, nil on success.
func (e *Engine) shipRow(ctx context.Context, job domain.Job, row domain.JobRow) error {
	order, err := toOrderRecord(rowDataOf(row))
	if err != nil {
		e.markRowFailed(ctx, job.ID, row.RowNumber, row.Status, err)
		return err
	}
	if err := e.checkInternationalLane(order); err != nil {
		e.markRowFailed(ctx, job.ID, row.RowNumber, row.Status, err)
		return err
	}

	snapshot, err := shipPayloadSnapshot(order, job.ServiceCode, job.Shipper)
	if err != nil {
		e.markRowFailed(ctx, job.ID, row.RowNumber, row.Status, err)
		return err
	}

	if err := e.store.TransitionRow(ctx, job.ID, row.RowNumber, row.Status, domain.RowShipping, func(r *domain.JobRow) {
		r.PayloadSnapshot = snapshot
		r.Attempt++
	}); err != nil {
		logRowError("batch.ship_row.to_shipping", job.ID, row.RowNumber, err)
		return err
	}
	e.publish(ctx, domain.EventRowStart, job.ID, row.RowNumber, nil)

	shipment, err := e.carrier.CreateShipment(ctx, order, job.ServiceCode, job.Shipper)
	if err != nil {
		e.markRowFailed(ctx, job.ID, row.RowNumber, domain.RowShipping, err)
		_ = e.store.AppendAudit(ctx, domain.AuditEntry{
			JobID: job.ID, Kind: domain.AuditRowFailed,
			Detail: map[string]any{"rowNumber": row.RowNumber, "error": err.Error()},
		})
		return err
	}

	var tracking, labelPath string
	if len(shipment.TrackingNumbers) > 0 {
		tracking = shipment.TrackingNumbers[0]
	}
	if len(shipment.LabelData) > 0 {
		if p, werr := e.writeLabel(job.ID, row.RowNumber, shipment.LabelData[0]); werr == nil {
			labelPath = p
		} else {
			logRowError("batch.ship_row.write_label", job.ID, row.RowNumber, werr)
		}
	}

	at := nowUTC()
	if err := e.store.TransitionRow(ctx, job.ID, row.RowNumber, domain.RowShipping, domain.RowShipped, func(r *domain.JobRow) {
		r.TrackingNumber = tracking
		r.LabelPath = labelPath
		r.ShippedAt = &at
	}); err != nil {
		logRowError("batch.ship_row.to_shipped", job.ID, row.RowNumber, err)
		return err
	}
	e.publish(ctx, domain.EventRowShipped, job.ID, row.RowNumber, map[string]any{"trackingNumber": tracking})
	_ = e.store.AppendAudit(ctx, domain.AuditEntry{
		JobID: job.ID, Kind: domain.AuditRowShipped,
		Detail: map[string]any{"rowNumber": row.RowNumber, "trackingNumber": tracking},
	})

	if tracking != "" {
		if werr := e.gateway.WriteTracking(ctx, row.RowNumber, tracking, job.ServiceCode, row.RatedCost); werr != nil {
			logRowError("batch.ship_row.write_tracking", job.ID, row.RowNumber, werr)
		}
	}
	return nil
}

func (e *Engine) skipRow(ctx context.Context, jobID string, row domain.JobRow) {
	if err := e.store.TransitionRow(ctx, jobID, row.RowNumber, row.Status, domain.RowSkipped, nil); err != nil {
		logRowError("batch.skip_row", jobID, row.RowNumber, err)
		return
	}
	e.publish(ctx, domain.EventRowSkipped, jobID, row.RowNumber, nil)
	_ = e.store.AppendAudit(ctx, domain.AuditEntry{JobID: jobID, Kind: domain.AuditRowSkipped, Detail: map[string]any{"rowNumber": row.RowNumber}})
}

// skipRemaining marks every row still in `pending` or `rated` `skipped`,
// used once a fail-fast trip has stopped new dispatches and in-flight rows
// have drained.
func (e *Engine) skipRemaining(ctx context.Context, jobID string) error {
	remaining, err := e.openRows(ctx, jobID)
	if err != nil {
		return err
	}
	for _, r := range remaining {
		e.skipRow(ctx, jobID, r)
	}
	return nil
}

func (e *Engine) aggregateExecute(ctx context.Context, jobID string) (domain.RowCounts, int64, *domain.ErrorRecord, error) {
	var counts domain.RowCounts
	var aggregateCost int64
	var lastErr *domain.ErrorRecord
	err := e.store.IterRows(ctx, jobID, func(r domain.JobRow) error {
		counts.Total++
		switch r.Status {
		case domain.RowShipped:
			aggregateCost += r.RatedCost
			counts.Succeeded++
		case domain.RowFailed:
			counts.Failed++
			if r.Error != nil {
				lastErr = r.Error
			}
		case domain.RowSkipped:
			counts.Skipped++
		default:
			counts.Pending++
		}
		return nil
	})
	if err != nil {
		return domain.RowCounts{}, 0, nil, fmt.Errorf("op=batch.aggregate_execute: %w", err)
	}
	return counts, aggregateCost, lastErr, nil
}
