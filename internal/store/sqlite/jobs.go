package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

func marshalShipper(s domain.ShipperProfile) (string, error) {
	b, err := json.Marshal(s)
	return string(b), err
}

func unmarshalShipper(s string) (domain.ShipperProfile, error) {
	var p domain.ShipperProfile
	err := json.Unmarshal([]byte(s), &p)
	return p, err
}

func marshalErrorRecord(e *domain.ErrorRecord) (sql.NullString, error) {
	if e == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalErrorRecord(ns sql.NullString) (*domain.ErrorRecord, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var e domain.ErrorRecord
	if err := json.Unmarshal([]byte(ns.String), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateJob inserts a new job in JobCreated status.
func (s *Store) CreateJob(ctx domain.Context, job domain.Job) error {
	ctx, end := startSpan(ctx, "jobs.Create")
	defer end()

	shipperJSON, err := marshalShipper(job.Shipper)
	if err != nil {
		return fmt.Errorf("op=job.create.marshal_shipper: %w", err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = nowUTC()
	}

	const q = `INSERT INTO jobs (
		id, command, source_signature, service_code, shipper_json, status,
		warning_policy, fail_fast, auto_confirm, generation, created_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?)`
	_, err = s.db.ExecContext(ctx, q,
		job.ID, job.Command, job.SourceSignature, job.ServiceCode, shipperJSON, job.Status,
		job.WarningPolicy, boolToInt(job.FailFast), boolToInt(job.AutoConfirm), job.Generation, job.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		logErr("job.create", err, "job_id", job.ID)
		return fmt.Errorf("op=job.create: %w", err)
	}
	return nil
}

const jobColumns = `id, command, source_signature, service_code, shipper_json, status,
	warning_policy, fail_fast, auto_confirm, counts_total, counts_succeeded,
	counts_failed, counts_skipped, counts_pending, preview_cost, aggregate_cost,
	approval_hash, approval_used, generation, last_error_json, created_at,
	approved_at, started_at, completed_at`

func scanJob(row interface {
	Scan(dest ...any) error
}) (domain.Job, error) {
	var j domain.Job
	var shipperJSON string
	var failFast, autoConfirm, approvalUsed int
	var lastErr sql.NullString
	var createdAt string
	var approvedAt, startedAt, completedAt sql.NullString

	err := row.Scan(
		&j.ID, &j.Command, &j.SourceSignature, &j.ServiceCode, &shipperJSON, &j.Status,
		&j.WarningPolicy, &failFast, &autoConfirm, &j.Counts.Total, &j.Counts.Succeeded,
		&j.Counts.Failed, &j.Counts.Skipped, &j.Counts.Pending, &j.PreviewCost, &j.AggregateCost,
		&j.ApprovalHash, &approvalUsed, &j.Generation, &lastErr, &createdAt,
		&approvedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	j.FailFast = failFast != 0
	j.AutoConfirm = autoConfirm != 0
	j.ApprovalUsed = approvalUsed != 0
	if j.Shipper, err = unmarshalShipper(shipperJSON); err != nil {
		return domain.Job{}, err
	}
	if j.LastError, err = unmarshalErrorRecord(lastErr); err != nil {
		return domain.Job{}, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Job{}, err
	}
	if j.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return domain.Job{}, err
	}
	if j.StartedAt, err = parseNullTime(startedAt); err != nil {
		return domain.Job{}, err
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx domain.Context, jobID string) (domain.Job, error) {
	ctx, end := startSpan(ctx, "jobs.Get")
	defer end()

	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	row := s.db.QueryRowContext(ctx, q, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// RunningJob returns the single job currently in JobRunning status, if any.
func (s *Store) RunningJob(ctx domain.Context) (*domain.Job, error) {
	ctx, end := startSpan(ctx, "jobs.RunningJob")
	defer end()

	q := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, domain.JobRunning)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=job.running: %w", err)
	}
	return &j, nil
}

// ListJobs returns a page of jobs, newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx domain.Context, filter domain.JobListFilter) ([]domain.Job, int, error) {
	ctx, end := startSpan(ctx, "jobs.List")
	defer end()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		countQ string
		listQ  string
		args   []any
	)
	if filter.Status != "" {
		countQ = `SELECT COUNT(*) FROM jobs WHERE status = ?`
		listQ = `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		args = []any{filter.Status}
	} else {
		countQ = `SELECT COUNT(*) FROM jobs`
		listQ = `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`
	}

	var total int
	countArgs := append([]any{}, args...)
	if err := s.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=job.list.count: %w", err)
	}

	listArgs := append(append([]any{}, args...), limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, listQ, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=job.list: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("op=job.list.scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=job.list.rows: %w", err)
	}
	return jobs, total, nil
}

// UpdateJobStatus performs a compare-and-swap on the job's status.
func (s *Store) UpdateJobStatus(ctx domain.Context, jobID string, from, to domain.JobStatus) error {
	ctx, end := startSpan(ctx, "jobs.UpdateStatus")
	defer end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=job.update_status.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `UPDATE jobs SET status = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, jobID, from)
	if err != nil {
		logErr("job.update_status", err, "job_id", jobID, "from", from, "to", to)
		return fmt.Errorf("op=job.update_status.exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("op=job.update_status.rows_affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("op=job.update_status: %w", domain.ErrStaleTransition)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=job.update_status.commit: %w", err)
	}
	committed = true
	return nil
}

// AverageProcessingTime returns the mean seconds between created_at and
// completed_at across jobs that reached JobCompleted.
func (s *Store) AverageProcessingTime(ctx domain.Context) (float64, error) {
	ctx, end := startSpan(ctx, "jobs.AverageProcessingTime")
	defer end()

	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, completed_at FROM jobs WHERE status = ? AND completed_at IS NOT NULL`,
		domain.JobCompleted)
	if err != nil {
		return 0, fmt.Errorf("op=job.avg_processing_time: %w", err)
	}
	defer rows.Close()

	var total float64
	var n int
	for rows.Next() {
		var createdStr, completedStr string
		if err := rows.Scan(&createdStr, &completedStr); err != nil {
			return 0, fmt.Errorf("op=job.avg_processing_time.scan: %w", err)
		}
		created, err := parseTime(createdStr)
		if err != nil {
			return 0, err
		}
		completed, err := parseTime(completedStr)
		if err != nil {
			return 0, err
		}
		total += completed.Sub(created).Seconds()
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
