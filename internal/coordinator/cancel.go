package coordinator

import (
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

// Cancel stops a job. For a job with no batch work in flight yet
// (anything before `running`), the transition to `cancelled` happens
// synchronously here. For a `running` job, Cancel only signals the
// in-flight Execute call to stop dispatching new rows — in-flight rows
// complete normally and Execute itself performs the eventual
// running → cancelled transition once they drain, per §5's
// never-abandon-a-mutating-call contract.
func (c *Coordinator) Cancel(ctx domain.Context, jobID string) (domain.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.cancel.get_job: %w", err)
	}

	if job.Status == domain.JobCancelled {
		return job, nil // idempotent
	}
	if job.Status.Terminal() {
		return domain.Job{}, fmt.Errorf("op=coordinator.cancel: %w: job %s is already %s", domain.ErrInvalidArgument, jobID, job.Status)
	}

	if job.Status == domain.JobRunning {
		cancel, ok := c.cancelFunc(jobID)
		if !ok {
			// No tracked Execute goroutine for a `running` job means the
			// process restarted without yet re-entering Execute mode; the
			// crash-recovery scan will pick it up, so there's nothing to
			// signal here. Treat the request as accepted.
			return job, nil
		}
		cancel()
		return job, nil
	}

	if err := c.store.CancelJob(ctx, jobID, job.Status); err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.cancel.store: %w", err)
	}
	c.audit(ctx, jobID, domain.AuditJobCancelled, nil)
	c.publish(ctx, domain.EventJobStatus, jobID, map[string]any{"status": string(domain.JobCancelled)})

	return c.store.GetJob(ctx, jobID)
}
