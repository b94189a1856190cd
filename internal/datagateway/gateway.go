// Package datagateway is a typed wrapper over the data-source subprocess:
// schema discovery, filtered row iteration, single-row lookup, row counts,
// and tracking write-back. Every operation here is read-only except
// WriteTracking; any failure is fatal to the current batch, never retried
// silently, since an ambiguous read against a possibly-drifted source is
// worse than stopping.
package datagateway

import (
	"context"
	"fmt"

	shiperrors "github.com/matt-hans/shipagent/internal/errors"
)

// ToolCaller is the Subprocess Supervisor port this package depends on.
// Identical shape to carrier.ToolCaller; kept as a separate type so this
// package has no import-time dependency on internal/carrier.
type ToolCaller interface {
	CallTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// ColumnType is a source column's declared type, as reported by the data
// source subprocess.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnNumeric ColumnType = "numeric"
	ColumnBool    ColumnType = "bool"
	ColumnDate    ColumnType = "date"
)

// SchemaColumn is one column of the active source's schema.
type SchemaColumn struct {
	Name string
	Type ColumnType
}

// SourceInfo is get_source_info's {type, signature, row-count} result. The
// signature MUST be stable for the lifetime of an unchanged source; the
// Job Coordinator compares it against the Job's recorded signature before
// every execute and before any crash-recovery resume.
type SourceInfo struct {
	Type      string
	Signature string
	RowCount  int
}

// Row is one source row: its 1-based position in query order plus its raw
// column values. The Payload Builder never sees a Row directly — the
// Batch Engine normalizes it into a domain.OrderRecord first.
type Row struct {
	Number int
	Data   map[string]any
}

// Gateway wraps a Subprocess Supervisor with the Data Gateway's typed
// operation set.
type Gateway struct {
	transport ToolCaller
}

// New constructs a Gateway over transport (typically a
// *subprocess.Supervisor pointed at the data-source process).
func New(transport ToolCaller) *Gateway {
	return &Gateway{transport: transport}
}

// GetSchema returns the active source's column list.
func (g *Gateway) GetSchema(ctx context.Context) ([]SchemaColumn, error) {
	res, err := g.call(ctx, "get_schema", nil)
	if err != nil {
		return nil, err
	}
	raw, _ := res["columns"].([]any)
	out := make([]SchemaColumn, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		typ, _ := m["type"].(string)
		out = append(out, SchemaColumn{Name: name, Type: ColumnType(typ)})
	}
	return out, nil
}

// GetSourceInfo returns the active source's type, stable signature, and
// row count.
func (g *Gateway) GetSourceInfo(ctx context.Context) (SourceInfo, error) {
	res, err := g.call(ctx, "get_source_info", nil)
	if err != nil {
		return SourceInfo{}, err
	}
	info := SourceInfo{}
	info.Type, _ = res["type"].(string)
	info.Signature, _ = res["signature"].(string)
	info.RowCount = asInt(res["rowCount"])
	if info.Signature == "" {
		return SourceInfo{}, shiperrors.New(shiperrors.ECodeSourceUnreadable, "source returned an empty signature", nil)
	}
	return info, nil
}

// QueryRows streams rows matching whereSQL (a signed FilterSpec's
// WhereClause; callers must already have verified the signature — this
// package does not re-verify it) to fn in source order, stopping at the
// first error fn returns.
func (g *Gateway) QueryRows(ctx context.Context, whereSQL string, fn func(Row) error) error {
	res, err := g.call(ctx, "query_rows", map[string]any{"where": whereSQL})
	if err != nil {
		return err
	}
	raw, _ := res["rows"].([]any)
	for i, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		row := Row{Number: i + 1, Data: m}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// GetRow fetches a single row by its 1-based position.
func (g *Gateway) GetRow(ctx context.Context, rowNumber int) (Row, error) {
	res, err := g.call(ctx, "get_row", map[string]any{"rowNumber": rowNumber})
	if err != nil {
		return Row{}, err
	}
	data, _ := res["row"].(map[string]any)
	return Row{Number: rowNumber, Data: data}, nil
}

// CountRows returns the number of rows matching whereSQL without
// materializing them.
func (g *Gateway) CountRows(ctx context.Context, whereSQL string) (int, error) {
	res, err := g.call(ctx, "count_rows", map[string]any{"where": whereSQL})
	if err != nil {
		return 0, err
	}
	return asInt(res["count"]), nil
}

// WriteTracking writes back the outcome of a shipped row to the source.
// This is the gateway's one mutating operation; it is never retried
// automatically — a failure here does not unwind the carrier-side
// shipment that already happened, so the Engine logs it and leaves the
// row shipped instead of guessing at a safe retry.
func (g *Gateway) WriteTracking(ctx context.Context, rowNumber int, trackingNumber, serviceCode string, costMinorUnits int64) error {
	_, err := g.call(ctx, "write_tracking", map[string]any{
		"rowNumber":      rowNumber,
		"trackingNumber": trackingNumber,
		"serviceCode":    serviceCode,
		"cost":           costMinorUnits,
	})
	return err
}

func (g *Gateway) call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	res, err := g.transport.CallTool(ctx, tool, args)
	if err != nil {
		return nil, fmt.Errorf("op=datagateway.%s: %w", tool, shiperrors.New(shiperrors.ECodeSourceUnreadable, err.Error(), err))
	}
	return res, nil
}

// CheckSignatureDrift compares a Job's recorded source signature against
// the source's current signature. A mismatch blocks execution — per the
// data-errors failure class, this is fatal to the batch and never
// auto-retried.
func CheckSignatureDrift(recorded, current string) error {
	if recorded != current {
		return shiperrors.New(shiperrors.ECodeSignatureDrift,
			fmt.Sprintf("recorded=%s current=%s", recorded, current), nil)
	}
	return nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
