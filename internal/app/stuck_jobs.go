// Package app wires application components and startup helpers.
package app

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matt-hans/shipagent/internal/domain"
	shiperrors "github.com/matt-hans/shipagent/internal/errors"
)

// StuckJobSweeper periodically checks for a running job whose StartedAt is
// older than MaxProcessingAge and fails it. This is distinct from the
// coordinator's crash-recovery Bootstrap scan: Bootstrap resumes a job left
// running by a process crash, once, at startup. This sweeper catches a job
// that hangs while the process is still alive — a carrier subprocess that
// stopped responding without closing its pipe, for instance — and runs for
// the life of the process.
//
// At most one job may be running at a time, so this checks RunningJob
// rather than paging through a list.
type StuckJobSweeper struct {
	store            domain.Store
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStuckJobSweeper builds a sweeper over store. A zero or negative
// maxProcessingAge/interval falls back to sane defaults.
func NewStuckJobSweeper(store domain.Store, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if store == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{store: store, maxProcessingAge: maxProcessingAge, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping at s.interval (and once
// immediately on entry).
func (s *StuckJobSweeper) Run(ctx domain.Context) {
	if s == nil || s.store == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx domain.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	job, err := s.store.RunningJob(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed to read running job", slog.Any("error", err))
		return
	}
	if job == nil || job.StartedAt == nil {
		return
	}

	age := time.Since(*job.StartedAt)
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.Float64("job.age_seconds", age.Seconds()),
		attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()),
	)
	if age < s.maxProcessingAge {
		return
	}

	rec := shiperrors.New(shiperrors.ECodeTransportFailure,
		"job exceeded maximum processing time; presumed hung subprocess", nil).Record()
	if err := s.store.CompleteJob(ctx, job.ID, domain.JobFailed, job.Counts, job.AggregateCost, &rec); err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed to fail job", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	slog.Warn("stuck job sweeper failed a job", slog.String("job_id", job.ID), slog.Duration("age", age))
}
