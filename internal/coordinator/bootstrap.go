package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
)

// nonTerminalStatuses is every status a crash can leave a job parked in.
var nonTerminalStatuses = []domain.JobStatus{
	domain.JobCreated,
	domain.JobPreviewing,
	domain.JobPreviewed,
	domain.JobApproved,
	domain.JobRunning,
}

// Bootstrap runs once at process startup, before the HTTP surface accepts
// traffic, and implements §4.6's crash-recovery scan: a `running` job is
// re-entered into Execute mode, and an `approved` job left with no rows
// (a crash landed between approval and the first InsertRows call) is
// re-materialized. Neither happens if the source's signature has drifted
// since the job was created — an auto-resume against data that no longer
// matches what the job was filtered and approved against is exactly what
// §5's single-writer/no-surprises contract forbids, so those jobs are left
// untouched for a human to Cancel or re-approve.
func (c *Coordinator) Bootstrap(ctx domain.Context) error {
	for _, status := range nonTerminalStatuses {
		jobs, _, err := c.store.ListJobs(ctx, domain.JobListFilter{Status: status, Limit: 0})
		if err != nil {
			return fmt.Errorf("op=coordinator.bootstrap.list: %w", err)
		}
		for _, job := range jobs {
			if err := c.resumeJob(ctx, job); err != nil {
				slog.Error("bootstrap resume failed", "jobID", job.ID, "status", job.Status, "error", err)
			}
		}
	}
	return nil
}

func (c *Coordinator) resumeJob(ctx domain.Context, job domain.Job) error {
	switch job.Status {
	case domain.JobRunning:
		return c.resumeRunning(ctx, job)
	case domain.JobApproved:
		return c.resumeApproved(ctx, job)
	default:
		// created/previewing/previewed jobs have no in-flight side effect
		// to resume; they simply wait for a caller to retry Preview or
		// Approve.
		return nil
	}
}

func (c *Coordinator) sourceDrifted(ctx domain.Context, job domain.Job) (bool, error) {
	source, err := c.gateway.GetSourceInfo(ctx)
	if err != nil {
		return false, fmt.Errorf("op=coordinator.bootstrap.source_info: %w", err)
	}
	if err := datagateway.CheckSignatureDrift(job.SourceSignature, source.Signature); err != nil {
		return true, nil
	}
	return false, nil
}

func (c *Coordinator) blockResume(ctx domain.Context, job domain.Job) {
	c.audit(ctx, job.ID, domain.AuditResumeBlocked, map[string]any{"status": string(job.Status)})
	c.publish(ctx, domain.EventJobStatus, job.ID, map[string]any{"status": string(job.Status), "resumeBlocked": true})
}

func (c *Coordinator) resumeRunning(ctx domain.Context, job domain.Job) error {
	drifted, err := c.sourceDrifted(ctx, job)
	if err != nil {
		return err
	}
	if drifted {
		c.blockResume(ctx, job)
		return nil
	}

	execCtx, cancel := context.WithCancel(context.Background())
	c.trackRunning(job.ID, cancel)
	go func() {
		defer cancel()
		defer c.untrackRunning(job.ID)
		tracer := otel.Tracer("coordinator")
		spanCtx, span := tracer.Start(execCtx, "Coordinator.ResumeRunning")
		defer span.End()
		if err := c.engine.ResumeRunning(spanCtx, job); err != nil {
			span.RecordError(err)
		}
	}()
	return nil
}

func (c *Coordinator) resumeApproved(ctx domain.Context, job domain.Job) error {
	drifted, err := c.sourceDrifted(ctx, job)
	if err != nil {
		return err
	}
	if drifted {
		c.blockResume(ctx, job)
		return nil
	}
	if err := c.engine.RematerializeIfEmpty(ctx, job); err != nil {
		return fmt.Errorf("op=coordinator.bootstrap.rematerialize: %w", err)
	}
	return nil
}
