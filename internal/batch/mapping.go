// Package batch is the Batch Engine: the concurrent preview/execute
// pipeline that turns an approved Job's materialized rows into rated,
// then shipped, carrier operations.
package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/domain"
)

// checksum computes the SHA-256 content checksum of a row's raw source
// data, over its canonical JSON encoding (Go's encoding/json sorts object
// keys, which is enough determinism here since a Row's Data map is
// re-fetched fresh on every materialize and never hand-edited).
func checksum(data map[string]any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("op=batch.checksum: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// toOrderRecord normalizes a Data Gateway row into the canonical shape the
// Payload Builder consumes. The round trip through JSON relies on
// domain.OrderRecord/domain.Address's json tags matching the field names
// the Data Gateway is expected to report; a source column that doesn't
// match any tag is silently ignored rather than rejected, since sources
// commonly carry extra columns the order shape doesn't need.
func toOrderRecord(row datagateway.Row) (domain.OrderRecord, error) {
	b, err := json.Marshal(row.Data)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("op=batch.to_order_record.marshal: %w", err)
	}
	var order domain.OrderRecord
	if err := json.Unmarshal(b, &order); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("op=batch.to_order_record.unmarshal: %w", err)
	}
	return order, nil
}
