package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/matt-hans/shipagent/internal/domain"
)

// AppendAudit writes one immutable audit record, assigning a monotonic
// ULID sequence if the caller did not already set one.
func (s *Store) AppendAudit(ctx domain.Context, entry domain.AuditEntry) error {
	ctx, end := startSpan(ctx, "audit.Append")
	defer end()

	if entry.Sequence == "" {
		entry.Sequence = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = nowUTC()
	}
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("op=audit.append.marshal: %w", err)
	}

	const q = `INSERT INTO audit (job_id, sequence, kind, detail_json, actor, created_at) VALUES (?,?,?,?,?,?)`
	if _, err := s.db.ExecContext(ctx, q, entry.JobID, entry.Sequence, entry.Kind, string(detailJSON), entry.Actor, entry.CreatedAt.Format(timeLayout)); err != nil {
		logErr("audit.append", err, "job_id", entry.JobID, "kind", entry.Kind)
		return fmt.Errorf("op=audit.append: %w", err)
	}
	return nil
}

// ListAudit returns every audit entry for a job in sequence order.
func (s *Store) ListAudit(ctx domain.Context, jobID string) ([]domain.AuditEntry, error) {
	ctx, end := startSpan(ctx, "audit.List")
	defer end()

	const q = `SELECT job_id, sequence, kind, detail_json, actor, created_at FROM audit WHERE job_id = ? ORDER BY sequence ASC`
	rows, err := s.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=audit.list: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON string
		var createdAt string
		if err := rows.Scan(&e.JobID, &e.Sequence, &e.Kind, &detailJSON, &e.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("op=audit.list.scan: %w", err)
		}
		if err := json.Unmarshal([]byte(detailJSON), &e.Detail); err != nil {
			return nil, fmt.Errorf("op=audit.list.unmarshal: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
