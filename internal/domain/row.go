package domain

import "time"

// RowStatus is the lifecycle state of a single job row.
type RowStatus string

const (
	RowPending  RowStatus = "pending"
	RowRated    RowStatus = "rated"
	RowShipping RowStatus = "shipping"
	RowShipped  RowStatus = "shipped"
	RowVoided   RowStatus = "voided"
	RowFailed   RowStatus = "failed"
	RowSkipped  RowStatus = "skipped"
)

// Terminal reports whether status is one from which no further transition occurs.
func (s RowStatus) Terminal() bool {
	switch s {
	case RowShipped, RowVoided, RowFailed, RowSkipped:
		return true
	default:
		return false
	}
}

// WarningClass marks a preview-time rating outcome that is not a hard
// failure but should surface to the warning-row policy gate.
type WarningClass string

const (
	WarningNone             WarningClass = ""
	WarningAddressAmbiguous WarningClass = "address_ambiguous"
	WarningOverweight       WarningClass = "overweight"
	WarningDimsMissing      WarningClass = "dims_missing"
	WarningInternational    WarningClass = "international_upgrade"
)

// JobRow is a single source row carried through rating and shipment.
//
// Invariant: RowNumber is unique and stable within a Job for its whole
// lifetime, including across refine operations that replace the FilterSpec.
type JobRow struct {
	ID             string
	JobID          string
	RowNumber      int
	SourceChecksum string
	SourceData     map[string]any
	Status         RowStatus
	Warning        WarningClass
	RatedCost      int64 // minor units
	ServiceCode    string
	// PayloadSnapshot is the exact carrier request body sent for this row's
	// create_shipment call, captured at the pending|rated → shipping
	// transition. Invariant 3 (§8) requires this be byte-identical to what
	// was actually dispatched.
	PayloadSnapshot []byte
	TrackingNumber  string
	LabelPath       string
	Error           *ErrorRecord
	Attempt         int
	RatedAt         *time.Time
	ShippedAt       *time.Time
}
