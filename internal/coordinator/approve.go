package coordinator

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
)

// approvalTokenBytes is the random token's byte width before hex
// encoding — 32 bytes gives 256 bits of entropy, matching the filter
// signer's HMAC key-size floor.
const approvalTokenBytes = 32

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Approve moves a previewed job to `approved` and mints its single-use
// approval token. The raw token is returned exactly once — only its
// SHA-256 hash is ever persisted — and must be presented unchanged to
// Confirm to start execution.
func (c *Coordinator) Approve(ctx domain.Context, jobID string) (domain.Job, string, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, "", fmt.Errorf("op=coordinator.approve.get_job: %w", err)
	}
	if job.Status != domain.JobPreviewed {
		return domain.Job{}, "", fmt.Errorf("op=coordinator.approve: %w: job %s is in status %s, expected previewed", domain.ErrInvalidArgument, jobID, job.Status)
	}

	raw := make([]byte, approvalTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return domain.Job{}, "", fmt.Errorf("op=coordinator.approve.generate_token: %w", err)
	}
	token := hex.EncodeToString(raw)

	if err := c.store.ApproveJob(ctx, jobID, hashToken(token)); err != nil {
		return domain.Job{}, "", fmt.Errorf("op=coordinator.approve.store: %w", err)
	}
	c.audit(ctx, jobID, domain.AuditApproved, nil)
	c.publish(ctx, domain.EventJobStatus, jobID, map[string]any{"status": string(domain.JobApproved)})

	final, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, "", fmt.Errorf("op=coordinator.approve.reload: %w", err)
	}
	return final, token, nil
}

// maybeAutoConfirm skips the approved gate for a previewed job with
// AutoConfirm set, provided preview produced zero row failures — a row
// failure under any WarningPolicy stricter than "process" means a human
// should see the preview before the batch ships, so auto-confirm never
// fires over a dirty preview. It mints and immediately redeems its own
// approval token exactly as the manual Approve → Confirm path would, so
// every invariant Confirm checks (source-signature drift, single
// running job) still applies. A failure here just leaves job sitting in
// `previewed` for a human to approve manually; it never fails Preview.
func (c *Coordinator) maybeAutoConfirm(ctx domain.Context, job domain.Job) domain.Job {
	if !job.AutoConfirm || job.Status != domain.JobPreviewed || job.Counts.Failed > 0 {
		return job
	}

	raw := make([]byte, approvalTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		slog.Warn("auto-confirm token generation failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return job
	}
	token := hex.EncodeToString(raw)

	if err := c.store.ApproveJob(ctx, job.ID, hashToken(token)); err != nil {
		slog.Warn("auto-confirm approve failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return job
	}
	c.audit(ctx, job.ID, domain.AuditApproved, map[string]any{"autoConfirm": true})
	c.publish(ctx, domain.EventJobStatus, job.ID, map[string]any{"status": string(domain.JobApproved)})

	confirmed, err := c.Confirm(ctx, job.ID, token)
	if err != nil {
		slog.Warn("auto-confirm confirm failed", slog.String("job_id", job.ID), slog.Any("error", err))
		if reloaded, rerr := c.store.GetJob(ctx, job.ID); rerr == nil {
			return reloaded
		}
		return job
	}
	return confirmed
}

// Confirm presents token against an approved job's stored hash and, if it
// matches, starts Execute mode. Preconditions checked atomically per
// §4.6: status is `approved`, the token matches and is unused, the
// source signature matches current, and (implicitly, since RefineJob
// always resets status to `created`) the generation is the one the
// approval was issued for. A replay of the same token against a job
// already `running` or terminal is treated as an idempotent hit rather
// than an error, per the idempotent-confirm feature.
func (c *Coordinator) Confirm(ctx domain.Context, jobID, token string) (domain.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm.get_job: %w", err)
	}

	presented := hashToken(token)
	hashesMatch := subtle.ConstantTimeCompare([]byte(presented), []byte(job.ApprovalHash)) == 1

	if job.Status == domain.JobRunning || job.Status.Terminal() {
		if hashesMatch {
			return job, nil
		}
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm: %w: job %s is in status %s", domain.ErrInvalidArgument, jobID, job.Status)
	}

	if job.Status != domain.JobApproved {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm: %w: job %s is in status %s, expected approved", domain.ErrInvalidArgument, jobID, job.Status)
	}
	if !hashesMatch {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm: %w", domain.ErrApprovalMismatch)
	}
	if job.ApprovalUsed {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm: %w: token already used", domain.ErrApprovalMismatch)
	}

	source, err := c.gateway.GetSourceInfo(ctx)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm.source_info: %w", err)
	}
	if err := datagateway.CheckSignatureDrift(job.SourceSignature, source.Signature); err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm: %w", err)
	}

	if running, err := c.store.RunningJob(ctx); err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm.running_check: %w", err)
	} else if running != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm: %w", domain.ErrRunningJobExists)
	}

	if err := c.store.StartRunning(ctx, jobID); err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm.store: %w", err)
	}
	c.audit(ctx, jobID, domain.AuditExecuteStarted, nil)
	c.publish(ctx, domain.EventJobStatus, jobID, map[string]any{"status": string(domain.JobRunning)})

	final, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.confirm.reload: %w", err)
	}
	c.runExecute(final)
	return final, nil
}
