package domain

import "time"

// JobStatus captures the lifecycle state of a batch job.
type JobStatus string

// Job status values. Transitions between them are enforced by the Job
// Coordinator and the State Store's compare-and-set primitives, never by
// direct field assignment.
const (
	JobCreated    JobStatus = "created"
	JobPreviewing JobStatus = "previewing"
	JobPreviewed  JobStatus = "previewed"
	JobApproved   JobStatus = "approved"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether status is one from which no further transition occurs.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// WarningRowPolicy controls fail-fast behavior when a preview row carries a warning.
type WarningRowPolicy string

const (
	WarningPolicySkip    WarningRowPolicy = "skip"
	WarningPolicyProcess WarningRowPolicy = "process"
	WarningPolicyAsk     WarningRowPolicy = "ask"
)

// RowCounts tracks a job's row outcomes; Total == Succeeded+Failed+Skipped+Pending
// must hold for all runs (invariant 1 of the testable properties).
type RowCounts struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Pending   int
}

// Job is one user command resolved to a batch of rows.
//
// Invariants: at most one Job may be in JobRunning status per process;
// ApprovedAt non-zero implies ApprovalHash is non-empty and matches the
// token presented at execute time; AggregateCost >= sum of rated_cost for
// rows in RowShipped.
type Job struct {
	ID              string
	Command         string
	SourceSignature string
	Filter          FilterSpec
	ServiceCode     string
	Shipper         ShipperProfile
	Status          JobStatus
	WarningPolicy   WarningRowPolicy
	FailFast        bool
	AutoConfirm     bool
	Counts          RowCounts
	PreviewCost     int64 // minor units
	AggregateCost   int64 // minor units
	ApprovalHash    string
	ApprovalUsed    bool
	Generation      int
	LastError       *ErrorRecord
	CreatedAt       time.Time
	ApprovedAt      *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// ErrorRecord is the user-visible shape of a failure: stable code, short
// title, remediation hint, and (if applicable) the raw upstream detail.
type ErrorRecord struct {
	Code        string
	Title       string
	Message     string
	Remediation string
	RawCode     string
	RawMessage  string
	Retryable   bool
}
