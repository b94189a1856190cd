package coordinator

import (
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

// Preview moves a job created → previewing, then hands it to the Batch
// Engine to materialize rows and rate a sample. The Engine owns the
// previewing → previewed/failed half of the transition and writes it
// itself; Preview only performs the entry half so the two are never
// confused about which side commits first.
func (c *Coordinator) Preview(ctx domain.Context, jobID string) (domain.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.preview.get_job: %w", err)
	}
	if job.Status != domain.JobCreated {
		return domain.Job{}, fmt.Errorf("op=coordinator.preview: %w: job %s is in status %s, expected created", domain.ErrInvalidArgument, jobID, job.Status)
	}

	if err := c.store.UpdateJobStatus(ctx, jobID, domain.JobCreated, domain.JobPreviewing); err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.preview.transition: %w", err)
	}
	c.audit(ctx, jobID, domain.AuditPreviewStarted, nil)
	c.publish(ctx, domain.EventJobStatus, jobID, map[string]any{"status": string(domain.JobPreviewing)})

	job.Status = domain.JobPreviewing
	previewErr := c.engine.Preview(ctx, job)
	// Preview always writes its own terminal transition (previewed or
	// failed) and publishes/audits it, even when it returns an error, so
	// the caller's job read below reflects the true outcome either way.
	final, getErr := c.store.GetJob(ctx, jobID)
	if getErr != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.preview.reload: %w", getErr)
	}
	if previewErr != nil {
		return final, fmt.Errorf("op=coordinator.preview: %w", previewErr)
	}
	return c.maybeAutoConfirm(ctx, final), nil
}
