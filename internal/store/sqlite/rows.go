package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matt-hans/shipagent/internal/domain"
)

const rowColumns = `job_id, row_number, source_checksum, source_data_json, status,
	warning, rated_cost, service_code, payload_snapshot, tracking_number, label_path, error_json,
	attempt, rated_at, shipped_at`

func scanRow(row interface {
	Scan(dest ...any) error
}) (domain.JobRow, error) {
	var r domain.JobRow
	var sourceJSON string
	var errJSON sql.NullString
	var ratedAt, shippedAt sql.NullString
	var payloadSnapshot []byte

	err := row.Scan(
		&r.JobID, &r.RowNumber, &r.SourceChecksum, &sourceJSON, &r.Status,
		&r.Warning, &r.RatedCost, &r.ServiceCode, &payloadSnapshot, &r.TrackingNumber, &r.LabelPath, &errJSON,
		&r.Attempt, &ratedAt, &shippedAt,
	)
	r.PayloadSnapshot = payloadSnapshot
	if err != nil {
		return domain.JobRow{}, err
	}
	if err := json.Unmarshal([]byte(sourceJSON), &r.SourceData); err != nil {
		return domain.JobRow{}, err
	}
	if r.Error, err = unmarshalErrorRecord(errJSON); err != nil {
		return domain.JobRow{}, err
	}
	if r.RatedAt, err = parseNullTime(ratedAt); err != nil {
		return domain.JobRow{}, err
	}
	if r.ShippedAt, err = parseNullTime(shippedAt); err != nil {
		return domain.JobRow{}, err
	}
	return r, nil
}

// InsertRows bulk-inserts a job's materialized rows in a single transaction.
func (s *Store) InsertRows(ctx domain.Context, rows []domain.JobRow) error {
	ctx, end := startSpan(ctx, "rows.Insert")
	defer end()
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=row.insert.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `INSERT INTO job_rows (
		job_id, row_number, source_checksum, source_data_json, status
	) VALUES (?,?,?,?,?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("op=row.insert.prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		sourceJSON, err := json.Marshal(r.SourceData)
		if err != nil {
			return fmt.Errorf("op=row.insert.marshal: %w", err)
		}
		if r.Status == "" {
			r.Status = domain.RowPending
		}
		if _, err := stmt.ExecContext(ctx, r.JobID, r.RowNumber, r.SourceChecksum, string(sourceJSON), r.Status); err != nil {
			logErr("row.insert", err, "job_id", r.JobID, "row_number", r.RowNumber)
			return fmt.Errorf("op=row.insert.exec: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=row.insert.commit: %w", err)
	}
	committed = true
	return nil
}

// GetRow loads a single row by its (job_id, row_number) key.
func (s *Store) GetRow(ctx domain.Context, jobID string, rowNumber int) (domain.JobRow, error) {
	ctx, end := startSpan(ctx, "rows.Get")
	defer end()

	q := `SELECT ` + rowColumns + ` FROM job_rows WHERE job_id = ? AND row_number = ?`
	row := s.db.QueryRowContext(ctx, q, jobID, rowNumber)
	r, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.JobRow{}, fmt.Errorf("op=row.get: %w", domain.ErrNotFound)
		}
		return domain.JobRow{}, fmt.Errorf("op=row.get: %w", err)
	}
	return r, nil
}

// IterRows streams every row of a job, ordered by row_number, invoking fn
// for each. Used by the Batch Engine's crash-recovery scan and by preview
// aggregation, both of which need to walk the whole row set without
// materializing it all in memory for very large batches.
func (s *Store) IterRows(ctx domain.Context, jobID string, fn func(domain.JobRow) error) error {
	ctx, end := startSpan(ctx, "rows.Iter")
	defer end()

	q := `SELECT ` + rowColumns + ` FROM job_rows WHERE job_id = ? ORDER BY row_number ASC`
	rows, err := s.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return fmt.Errorf("op=row.iter: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return fmt.Errorf("op=row.iter.scan: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// TransitionRow performs a compare-and-swap on a row's status: the row is
// re-read inside the transaction, mutate is applied to the in-memory copy,
// and the update only commits if the row's current status still equals
// from. This is the sole write path for row state, so two concurrent
// callers racing the same row (a carrier-call goroutine and a crash-resume
// scan, say) cannot both succeed.
func (s *Store) TransitionRow(ctx domain.Context, jobID string, rowNumber int, from, to domain.RowStatus, mutate func(*domain.JobRow)) error {
	ctx, end := startSpan(ctx, "rows.Transition")
	defer end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=row.transition.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := `SELECT ` + rowColumns + ` FROM job_rows WHERE job_id = ? AND row_number = ?`
	row := tx.QueryRowContext(ctx, q, jobID, rowNumber)
	r, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("op=row.transition: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=row.transition.scan: %w", err)
	}
	if r.Status != from {
		return fmt.Errorf("op=row.transition: %w", domain.ErrStaleTransition)
	}

	r.Status = to
	if mutate != nil {
		mutate(&r)
	}

	sourceJSON, err := json.Marshal(r.SourceData)
	if err != nil {
		return fmt.Errorf("op=row.transition.marshal_source: %w", err)
	}
	errJSON, err := marshalErrorRecord(r.Error)
	if err != nil {
		return fmt.Errorf("op=row.transition.marshal_error: %w", err)
	}

	const u = `UPDATE job_rows SET
		source_checksum = ?, source_data_json = ?, status = ?, warning = ?,
		rated_cost = ?, service_code = ?, payload_snapshot = ?, tracking_number = ?, label_path = ?,
		error_json = ?, attempt = ?, rated_at = ?, shipped_at = ?
		WHERE job_id = ? AND row_number = ? AND status = ?`
	res, err := tx.ExecContext(ctx, u,
		r.SourceChecksum, string(sourceJSON), r.Status, r.Warning,
		r.RatedCost, r.ServiceCode, r.PayloadSnapshot, r.TrackingNumber, r.LabelPath,
		errJSON, r.Attempt, formatNullTime(r.RatedAt), formatNullTime(r.ShippedAt),
		jobID, rowNumber, from,
	)
	if err != nil {
		logErr("row.transition", err, "job_id", jobID, "row_number", rowNumber, "from", from, "to", to)
		return fmt.Errorf("op=row.transition.exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("op=row.transition.rows_affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("op=row.transition: %w", domain.ErrStaleTransition)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=row.transition.commit: %w", err)
	}
	committed = true
	return nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeLayout), Valid: true}
}
