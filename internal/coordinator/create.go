package coordinator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/matt-hans/shipagent/internal/domain"
	"github.com/matt-hans/shipagent/internal/filter"
	"github.com/matt-hans/shipagent/pkg/textx"
)

// CreateJobParams is everything the NL layer resolves before a job can be
// opened: the original command text, the compiler-ready WHERE clause and
// its bound parameters, and the process-wide service code/shipper
// identity the batch will ship under. The NL interpreter's own internals
// — turning free text into whereClause/params — are out of scope here;
// the Coordinator only validates and signs what it's handed.
type CreateJobParams struct {
	Command       string
	WhereClause   string
	Params        map[string]any
	ServiceCode   string
	Shipper       domain.ShipperProfile
	WarningPolicy domain.WarningRowPolicy
	FailFast      bool
	AutoConfirm   bool
}

// CreateJob resolves params.WhereClause against the Data Gateway's current
// schema and source signature, signs the resulting FilterSpec, and
// persists a new Job in `created` status with generation 0.
func (c *Coordinator) CreateJob(ctx domain.Context, params CreateJobParams) (domain.Job, error) {
	source, err := c.gateway.GetSourceInfo(ctx)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.create_job.source_info: %w", err)
	}
	schema, err := c.loadSchema(ctx, source.Type)
	if err != nil {
		return domain.Job{}, err
	}

	jobID := uuid.New().String()
	command := textx.SanitizeText(params.Command)
	filterSpec, err := c.compiler.Compile(jobID, command, params.WhereClause, schema, 0, params.Params)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.create_job.compile: %w", err)
	}

	job := domain.Job{
		ID:              jobID,
		Command:         command,
		SourceSignature: source.Signature,
		Filter:          filterSpec,
		ServiceCode:     params.ServiceCode,
		Shipper:         params.Shipper,
		Status:          domain.JobCreated,
		WarningPolicy:   params.WarningPolicy,
		FailFast:        params.FailFast,
		AutoConfirm:     params.AutoConfirm,
		Generation:      0,
		CreatedAt:       nowUTC(),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.create_job.store: %w", err)
	}
	if err := c.store.SaveFilter(ctx, filterSpec); err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.create_job.save_filter: %w", err)
	}

	c.audit(ctx, jobID, domain.AuditFilterProposed, map[string]any{"whereClause": filterSpec.WhereClause})
	c.publish(ctx, domain.EventJobStatus, jobID, map[string]any{"status": string(domain.JobCreated)})
	return job, nil
}

// Refine replaces jobID's FilterSpec with a newly compiled one against
// whereClause/params, bumping generation and resetting the job back to
// `created` so it can be re-previewed. The original command text is
// preserved across the refine for audit, per §4.5.
func (c *Coordinator) Refine(ctx domain.Context, jobID, whereClause string, params map[string]any) (domain.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.refine.get_job: %w", err)
	}
	if job.Status.Terminal() {
		return domain.Job{}, fmt.Errorf("op=coordinator.refine: %w: job %s is terminal", domain.ErrInvalidArgument, jobID)
	}
	currentFilter, err := c.store.GetFilter(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.refine.get_filter: %w", err)
	}

	schema, err := c.loadSchema(ctx, currentFilter.TableName)
	if err != nil {
		return domain.Job{}, err
	}
	newFilter, err := c.compiler.Compile(jobID, job.Command, whereClause, schema, job.Generation+1, params)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.refine.compile: %w", err)
	}
	newFilter.OriginCommand = job.Command

	if err := c.store.RefineJob(ctx, jobID, newFilter); err != nil {
		return domain.Job{}, fmt.Errorf("op=coordinator.refine.store: %w", err)
	}

	c.audit(ctx, jobID, domain.AuditFilterRefined, map[string]any{"whereClause": newFilter.WhereClause, "generation": job.Generation + 1})
	c.publish(ctx, domain.EventJobStatus, jobID, map[string]any{"status": string(domain.JobCreated)})
	return c.store.GetJob(ctx, jobID)
}

func (c *Coordinator) loadSchema(ctx domain.Context, tableName string) (filter.Schema, error) {
	cols, err := c.gateway.GetSchema(ctx)
	if err != nil {
		return filter.Schema{}, fmt.Errorf("op=coordinator.load_schema: %w", err)
	}
	schema := filter.Schema{Table: tableName, Columns: make(map[string]filter.ColumnType, len(cols))}
	for _, col := range cols {
		schema.Columns[col.Name] = filter.ColumnType(col.Type)
	}
	return schema, nil
}
