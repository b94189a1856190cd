package sqlite

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/matt-hans/shipagent/internal/domain"
)

// CleanupOldJobs deletes every terminal job (and its rows/audit/filter
// rows) whose created_at is older than cutoff. Only terminal jobs are
// eligible — a job mid-flight has no created_at age limit that should
// ever cause it to vanish out from under the running engine.
func (s *Store) CleanupOldJobs(ctx domain.Context, cutoff time.Time) (deleted int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("op=store.cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	terminal := []string{string(domain.JobCompleted), string(domain.JobFailed), string(domain.JobCancelled)}
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM jobs WHERE created_at < ? AND status IN (?, ?, ?)`,
		cutoff.UTC().Format(timeLayout), terminal[0], terminal[1], terminal[2])
	if err != nil {
		return 0, fmt.Errorf("op=store.cleanup.select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("op=store.cleanup.scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_rows WHERE job_id = ?`, id); err != nil {
			return 0, fmt.Errorf("op=store.cleanup.delete_rows: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM audit WHERE job_id = ?`, id); err != nil {
			return 0, fmt.Errorf("op=store.cleanup.delete_audit: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM filters WHERE job_id = ?`, id); err != nil {
			return 0, fmt.Errorf("op=store.cleanup.delete_filters: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("op=store.cleanup.delete_job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("op=store.cleanup.commit: %w", err)
	}
	return int64(len(ids)), nil
}

// RetentionSweeper periodically deletes terminal jobs older than
// RetentionDays: a ticker, an initial pass, and a context-cancel exit.
type RetentionSweeper struct {
	Store         *Store
	RetentionDays int
	Interval      time.Duration
}

// Run blocks until ctx is cancelled, sweeping at Interval (and once
// immediately on entry).
func (r *RetentionSweeper) Run(ctx domain.Context) {
	if r.RetentionDays <= 0 {
		return
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	r.sweepOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *RetentionSweeper) sweepOnce(ctx domain.Context) {
	cutoff := time.Now().AddDate(0, 0, -r.RetentionDays)
	deleted, err := r.Store.CleanupOldJobs(ctx, cutoff)
	if err != nil {
		slog.Error("retention sweep failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		slog.Info("retention sweep completed", slog.Int64("deleted_jobs", deleted), slog.Time("cutoff", cutoff))
	}
}
