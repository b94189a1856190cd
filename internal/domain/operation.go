package domain

// Operation names every call the Carrier Client and Data Gateway can make.
// This is a closed sum type by design (see spec design note): adding a new
// capability means adding a new constant, a RetryClassOf case, and a
// Carrier Client method, never registering one at runtime.
type Operation string

const (
	OpGetRate         Operation = "get_rate"
	OpCreateShipment  Operation = "create_shipment"
	OpVoidShipment    Operation = "void_shipment"
	OpValidateAddress Operation = "validate_address"
	OpTrack           Operation = "track"
	OpUploadDocument  Operation = "upload_document"
	OpAttachDocument  Operation = "attach_document"
	OpSchedulePickup  Operation = "schedule_pickup"
	OpCancelPickup    Operation = "cancel_pickup"
	OpRatePickup      Operation = "rate_pickup"
	OpGetLandedCost   Operation = "get_landed_cost"
	OpFindLocations   Operation = "find_locations"
)

// RetryClass says whether an operation is safe to retry automatically and
// under what policy. Read-only lookups retry generously; anything that can
// mutate carrier-side state does not, except the one documented exception
// for create_shipment's infra-rejection case.
type RetryClass int

const (
	// RetryClassReadOnly allows automatic retry with exponential backoff.
	RetryClassReadOnly RetryClass = iota
	// RetryClassMutating forbids automatic retry; a failure must surface
	// to the caller for explicit re-attempt.
	RetryClassMutating
	// RetryClassMutatingConditional is RetryClassMutating except for a
	// single named carrier response code indicating the request never
	// reached the carrier's shipment ledger (infra rejection).
	RetryClassMutatingConditional
)

// RetryClassOf returns the retry classification for op. Unknown operations
// default to RetryClassMutating (fail closed: never assume it's safe to
// retry something the table doesn't know about).
func RetryClassOf(op Operation) RetryClass {
	switch op {
	case OpGetRate, OpValidateAddress, OpTrack, OpFindLocations, OpGetLandedCost, OpRatePickup:
		return RetryClassReadOnly
	case OpCreateShipment:
		return RetryClassMutatingConditional
	case OpVoidShipment, OpUploadDocument, OpAttachDocument, OpSchedulePickup, OpCancelPickup:
		return RetryClassMutating
	default:
		return RetryClassMutating
	}
}
