package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

// SaveFilter replaces the job's FilterSpec (upsert) — refine writes a new
// generation over the prior row rather than appending, since a job holds
// exactly one active FilterSpec at a time.
func (s *Store) SaveFilter(ctx domain.Context, filter domain.FilterSpec) error {
	ctx, end := startSpan(ctx, "filters.Save")
	defer end()

	if filter.CreatedAt.IsZero() {
		filter.CreatedAt = nowUTC()
	}
	paramNamesJSON, err := json.Marshal(filter.ParamNames)
	if err != nil {
		return fmt.Errorf("op=filter.save.marshal_names: %w", err)
	}
	paramValuesJSON, err := json.Marshal(filter.ParamValues)
	if err != nil {
		return fmt.Errorf("op=filter.save.marshal_values: %w", err)
	}

	const q = `INSERT INTO filters (
		job_id, generation, table_name, where_clause, param_names_json,
		param_values_json, signature, origin_command, created_at
	) VALUES (?,?,?,?,?,?,?,?,?)
	ON CONFLICT(job_id) DO UPDATE SET
		generation = excluded.generation,
		table_name = excluded.table_name,
		where_clause = excluded.where_clause,
		param_names_json = excluded.param_names_json,
		param_values_json = excluded.param_values_json,
		signature = excluded.signature,
		origin_command = excluded.origin_command,
		created_at = excluded.created_at`
	_, err = s.db.ExecContext(ctx, q,
		filter.JobID, filter.Generation, filter.TableName, filter.WhereClause,
		string(paramNamesJSON), string(paramValuesJSON), filter.Signature,
		filter.OriginCommand, filter.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		logErr("filter.save", err, "job_id", filter.JobID)
		return fmt.Errorf("op=filter.save: %w", err)
	}
	return nil
}

// GetFilter loads the active FilterSpec for a job.
func (s *Store) GetFilter(ctx domain.Context, jobID string) (domain.FilterSpec, error) {
	ctx, end := startSpan(ctx, "filters.Get")
	defer end()

	const q = `SELECT job_id, generation, table_name, where_clause, param_names_json,
		param_values_json, signature, origin_command, created_at FROM filters WHERE job_id = ?`
	row := s.db.QueryRowContext(ctx, q, jobID)

	var f domain.FilterSpec
	var paramNamesJSON, paramValuesJSON, createdAt string
	err := row.Scan(&f.JobID, &f.Generation, &f.TableName, &f.WhereClause, &paramNamesJSON,
		&paramValuesJSON, &f.Signature, &f.OriginCommand, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FilterSpec{}, fmt.Errorf("op=filter.get: %w", domain.ErrNotFound)
		}
		return domain.FilterSpec{}, fmt.Errorf("op=filter.get: %w", err)
	}
	if err := json.Unmarshal([]byte(paramNamesJSON), &f.ParamNames); err != nil {
		return domain.FilterSpec{}, fmt.Errorf("op=filter.get.unmarshal_names: %w", err)
	}
	if err := json.Unmarshal([]byte(paramValuesJSON), &f.ParamValues); err != nil {
		return domain.FilterSpec{}, fmt.Errorf("op=filter.get.unmarshal_values: %w", err)
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.FilterSpec{}, err
	}
	return f, nil
}
