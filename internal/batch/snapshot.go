package batch

import (
	"encoding/json"
	"fmt"

	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
	"github.com/matt-hans/shipagent/internal/payload"
)

// rowDataOf adapts a stored JobRow's source data back into the shape
// toOrderRecord expects, so the mapping helper can be reused for both
// freshly materialized Data Gateway rows and rows re-read from the store.
func rowDataOf(row domain.JobRow) datagateway.Row {
	return datagateway.Row{Number: row.RowNumber, Data: row.SourceData}
}

// shipPayloadSnapshot builds the exact ship-request body for order and
// serializes it. payload.ShipBody is pure, so calling it here and again
// inside the Carrier Client with the same arguments yields byte-identical
// output — satisfying the requirement that a shipped row's stored
// snapshot match what was actually dispatched.
func shipPayloadSnapshot(order domain.OrderRecord, serviceCode string, shipper domain.ShipperProfile) ([]byte, error) {
	req, err := payload.ShipBody(order, serviceCode, shipper)
	if err != nil {
		return nil, fmt.Errorf("op=batch.ship_payload_snapshot: %w", err)
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("op=batch.ship_payload_snapshot.marshal: %w", err)
	}
	return b, nil
}
