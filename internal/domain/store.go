package domain

// Store is the State Store port: every durable mutation a Job or its rows
// undergoes, expressed as a narrow, transactional operation set rather than
// a generic repository. Implementations must make transition_row and
// update_job_status atomic compare-and-swap operations — callers rely on
// ErrStaleTransition to detect a lost race rather than re-reading first.
type Store interface {
	CreateJob(ctx Context, job Job) error
	GetJob(ctx Context, jobID string) (Job, error)
	ListJobs(ctx Context, filter JobListFilter) ([]Job, int, error)
	RunningJob(ctx Context) (*Job, error)

	// UpdateJobStatus performs a compare-and-swap: it succeeds only if the
	// job's current status equals from. Returns ErrStaleTransition otherwise.
	UpdateJobStatus(ctx Context, jobID string, from, to JobStatus) error

	// SetPreviewResult records a preview pass's outcome (row counts and the
	// summed rated cost) and moves the job from `previewing` to to
	// (`previewed` on success, `failed` on a fatal preview error) in one
	// transaction.
	SetPreviewResult(ctx Context, jobID string, counts RowCounts, previewCost int64, to JobStatus) error

	// ApproveJob performs the `previewed` → `approved` transition, stamping
	// ApprovedAt and the single-use ApprovalHash.
	ApproveJob(ctx Context, jobID, approvalHash string) error

	// StartRunning performs the `approved` → `running` transition,
	// stamping StartedAt and marking the approval token used.
	StartRunning(ctx Context, jobID string) error

	// CompleteJob performs the `running` → to transition, stamping
	// CompletedAt and writing the final row counts, aggregate cost, and
	// (if to is `failed`) the job-level error. to is `completed` or
	// `failed` for a natural end of Execute, and also `cancelled` when a
	// caller's Cancel signal stopped dispatch mid-run and the in-flight
	// rows have since drained — the CAS guard and column writes a
	// cancelled-while-running job needs are identical to a completed
	// one's, so it is not a distinct method.
	CompleteJob(ctx Context, jobID string, to JobStatus, counts RowCounts, aggregateCost int64, lastErr *ErrorRecord) error

	// CancelJob performs a from → `cancelled` transition from any
	// non-terminal from state.
	CancelJob(ctx Context, jobID string, from JobStatus) error

	// RefineJob atomically replaces a job's FilterSpec, bumps its
	// generation, resets row-derived counters, and moves status back to
	// `created` so it can be re-previewed. The previous FilterSpec's
	// origin command is preserved for audit by the caller before calling
	// this (the store itself does not retain history).
	RefineJob(ctx Context, jobID string, newFilter FilterSpec) error

	InsertRows(ctx Context, rows []JobRow) error
	GetRow(ctx Context, jobID string, rowNumber int) (JobRow, error)
	IterRows(ctx Context, jobID string, fn func(JobRow) error) error

	// TransitionRow performs a compare-and-swap on a row's status and
	// persists the supplied mutation in the same transaction. Returns
	// ErrStaleTransition if the row's current status does not equal from.
	TransitionRow(ctx Context, jobID string, rowNumber int, from, to RowStatus, mutate func(*JobRow)) error

	AppendAudit(ctx Context, entry AuditEntry) error
	ListAudit(ctx Context, jobID string) ([]AuditEntry, error)

	SaveFilter(ctx Context, filter FilterSpec) error
	GetFilter(ctx Context, jobID string) (FilterSpec, error)

	AverageProcessingTime(ctx Context) (seconds float64, err error)
}

// JobListFilter narrows ListJobs results; a zero-value filter matches
// every job, newest first.
type JobListFilter struct {
	Status JobStatus // empty means any
	Offset int
	Limit  int
}
