package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

// casUpdateJob runs a compare-and-swap UPDATE against the jobs table
// inside its own transaction, returning ErrStaleTransition if the row
// didn't match the guard clause. setClause/args are the column assignments and
// their bound values (excluding the trailing WHERE id/status binds, which
// this helper appends).
func (s *Store) casUpdateJob(ctx domain.Context, op, jobID string, from domain.JobStatus, setClause string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=%s.begin_tx: %w", op, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := `UPDATE jobs SET ` + setClause + ` WHERE id = ? AND status = ?`
	execArgs := append(append([]any{}, args...), jobID, from)
	res, err := tx.ExecContext(ctx, q, execArgs...)
	if err != nil {
		logErr(op, err, "job_id", jobID, "from", from)
		return fmt.Errorf("op=%s.exec: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("op=%s.rows_affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("op=%s: %w", op, domain.ErrStaleTransition)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=%s.commit: %w", op, err)
	}
	committed = true
	return nil
}

// SetPreviewResult moves a job from `previewing` to to, stamping the row
// counts and summed preview cost computed by the rating pass.
func (s *Store) SetPreviewResult(ctx domain.Context, jobID string, counts domain.RowCounts, previewCost int64, to domain.JobStatus) error {
	ctx, end := startSpan(ctx, "jobs.SetPreviewResult")
	defer end()
	return s.casUpdateJob(ctx, "job.set_preview_result", jobID, domain.JobPreviewing,
		`status = ?, counts_total = ?, counts_succeeded = ?, counts_failed = ?,
		 counts_skipped = ?, counts_pending = ?, preview_cost = ?`,
		to, counts.Total, counts.Succeeded, counts.Failed, counts.Skipped, counts.Pending, previewCost,
	)
}

// ApproveJob moves a job from `previewed` to `approved`, stamping
// ApprovedAt and the single-use approval hash.
func (s *Store) ApproveJob(ctx domain.Context, jobID, approvalHash string) error {
	ctx, end := startSpan(ctx, "jobs.ApproveJob")
	defer end()
	return s.casUpdateJob(ctx, "job.approve", jobID, domain.JobPreviewed,
		`status = ?, approval_hash = ?, approval_used = 0, approved_at = ?`,
		domain.JobApproved, approvalHash, nowUTC().Format(timeLayout),
	)
}

// StartRunning moves a job from `approved` to `running`, stamping
// StartedAt and marking the approval token consumed.
func (s *Store) StartRunning(ctx domain.Context, jobID string) error {
	ctx, end := startSpan(ctx, "jobs.StartRunning")
	defer end()
	return s.casUpdateJob(ctx, "job.start_running", jobID, domain.JobApproved,
		`status = ?, approval_used = 1, started_at = ?`,
		domain.JobRunning, nowUTC().Format(timeLayout),
	)
}

// CompleteJob moves a job from `running` to to (`completed` or `failed`),
// stamping CompletedAt, the final row counts, aggregate cost, and (when
// to is `failed`) the job-level error.
func (s *Store) CompleteJob(ctx domain.Context, jobID string, to domain.JobStatus, counts domain.RowCounts, aggregateCost int64, lastErr *domain.ErrorRecord) error {
	ctx, end := startSpan(ctx, "jobs.CompleteJob")
	defer end()

	errJSON, err := marshalErrorRecord(lastErr)
	if err != nil {
		return fmt.Errorf("op=job.complete.marshal_error: %w", err)
	}
	var errArg any
	if errJSON.Valid {
		errArg = errJSON.String
	} else {
		errArg = sql.NullString{}
	}

	return s.casUpdateJob(ctx, "job.complete", jobID, domain.JobRunning,
		`status = ?, counts_total = ?, counts_succeeded = ?, counts_failed = ?,
		 counts_skipped = ?, counts_pending = ?, aggregate_cost = ?, last_error_json = ?, completed_at = ?`,
		to, counts.Total, counts.Succeeded, counts.Failed, counts.Skipped, counts.Pending,
		aggregateCost, errArg, nowUTC().Format(timeLayout),
	)
}

// CancelJob moves a job from any non-terminal from status to `cancelled`.
func (s *Store) CancelJob(ctx domain.Context, jobID string, from domain.JobStatus) error {
	ctx, end := startSpan(ctx, "jobs.CancelJob")
	defer end()
	return s.casUpdateJob(ctx, "job.cancel", jobID, from,
		`status = ?, completed_at = ?`,
		domain.JobCancelled, nowUTC().Format(timeLayout),
	)
}

// RefineJob atomically replaces a job's FilterSpec, bumps its generation,
// resets row-derived counters, deletes the rows materialized by the
// previous filter, and moves status back to `created`. The next Preview
// call re-materializes rows against the new filter.
func (s *Store) RefineJob(ctx domain.Context, jobID string, newFilter domain.FilterSpec) error {
	ctx, end := startSpan(ctx, "jobs.RefineJob")
	defer end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=job.refine.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT generation, status FROM jobs WHERE id = ?`, jobID)
	var generation int
	var status domain.JobStatus
	if err := row.Scan(&generation, &status); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("op=job.refine: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=job.refine.scan: %w", err)
	}
	if status.Terminal() {
		return fmt.Errorf("op=job.refine: %w: job is in terminal status %s", domain.ErrInvalidArgument, status)
	}

	newGeneration := generation + 1
	newFilter.Generation = newGeneration

	const updateJob = `UPDATE jobs SET status = ?, generation = ?,
		counts_total = 0, counts_succeeded = 0, counts_failed = 0, counts_skipped = 0, counts_pending = 0,
		preview_cost = 0, aggregate_cost = 0, approval_hash = '', approval_used = 0,
		approved_at = NULL, started_at = NULL, completed_at = NULL, last_error_json = NULL
		WHERE id = ?`
	if _, err := tx.ExecContext(ctx, updateJob, domain.JobCreated, newGeneration, jobID); err != nil {
		return fmt.Errorf("op=job.refine.update_job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_rows WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("op=job.refine.clear_rows: %w", err)
	}

	paramNamesJSON, err := json.Marshal(newFilter.ParamNames)
	if err != nil {
		return fmt.Errorf("op=job.refine.marshal_names: %w", err)
	}
	paramValuesJSON, err := json.Marshal(newFilter.ParamValues)
	if err != nil {
		return fmt.Errorf("op=job.refine.marshal_values: %w", err)
	}
	const upsertFilter = `INSERT INTO filters (
		job_id, generation, table_name, where_clause, param_names_json, param_values_json,
		signature, origin_command, created_at
	) VALUES (?,?,?,?,?,?,?,?,?)
	ON CONFLICT(job_id) DO UPDATE SET
		generation = excluded.generation, table_name = excluded.table_name,
		where_clause = excluded.where_clause, param_names_json = excluded.param_names_json,
		param_values_json = excluded.param_values_json, signature = excluded.signature,
		origin_command = excluded.origin_command, created_at = excluded.created_at`
	createdAt := newFilter.CreatedAt
	if createdAt.IsZero() {
		createdAt = nowUTC()
	}
	if _, err := tx.ExecContext(ctx, upsertFilter,
		jobID, newGeneration, newFilter.TableName, newFilter.WhereClause, paramNamesJSON, paramValuesJSON,
		newFilter.Signature, newFilter.OriginCommand, createdAt.Format(timeLayout),
	); err != nil {
		return fmt.Errorf("op=job.refine.upsert_filter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=job.refine.commit: %w", err)
	}
	committed = true
	return nil
}
