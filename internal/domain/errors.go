package domain

import "errors"

// Error taxonomy (sentinels). Carrier/store/filter errors wrap one of these
// so callers can classify with errors.Is regardless of the wrapped detail.
var (
	// ErrNotFound indicates the requested job, row, or resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state conflict (e.g. duplicate row number).
	ErrConflict = errors.New("conflict")
	// ErrStaleTransition indicates a compare-and-swap status transition's `from` no longer matches.
	ErrStaleTransition = errors.New("stale transition")
	// ErrInvalidArgument indicates a caller supplied malformed or missing input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSignatureDrift indicates a data source's current signature no longer matches the job's recorded signature.
	ErrSignatureDrift = errors.New("source signature drift")
	// ErrUnsignedFilter indicates a FilterSpec's HMAC signature failed verification.
	ErrUnsignedFilter = errors.New("filter signature invalid")
	// ErrApprovalMismatch indicates a supplied approval token does not match the job's stored hash.
	ErrApprovalMismatch = errors.New("approval token mismatch")
	// ErrGenerationMismatch indicates a stale generation was used to execute a refined job.
	ErrGenerationMismatch = errors.New("generation mismatch")
	// ErrSingleWriter indicates a second worker process attempted to run against the same store.
	ErrSingleWriter = errors.New("single-writer policy violation")
	// ErrRunningJobExists indicates an attempt to start a second job while one is already running.
	ErrRunningJobExists = errors.New("a job is already running")
	// ErrUnauthorized indicates a REST caller's API key header was missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
)
