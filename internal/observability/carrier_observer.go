package observability

import (
	"time"

	"github.com/matt-hans/shipagent/internal/carrier"
)

// CarrierObserver adapts the package's carrier-call metrics to
// carrier.Client's Observer port, so internal/carrier can report per-call
// outcomes without importing this package back.
type CarrierObserver struct{}

// ObserveCall records one carrier subprocess call's duration and outcome.
func (CarrierObserver) ObserveCall(operation string, dur time.Duration, err error) {
	RecordCarrierCall(operation, dur, err)
}

var _ carrier.Observer = CarrierObserver{}
