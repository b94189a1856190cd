package domain

import (
	"fmt"
	"time"
)

// FilterSpec is a validated, signed WHERE-clause fragment proposed by the
// NL interpreter and accepted by the Filter Compiler. A job holds exactly
// one FilterSpec at a time; refine replaces it and bumps Generation rather
// than mutating it in place.
type FilterSpec struct {
	JobID         string
	Generation    int
	TableName     string
	WhereClause   string // canonicalized
	ParamNames    []string
	ParamValues   map[string]any
	Signature     string // HMAC-SHA256 over the canonical clause + params
	OriginCommand string // original NL command text, preserved across refines
	CreatedAt     time.Time
}

// Canonical returns the string the signature is computed over: the
// canonicalized WHERE clause followed by its parameter values in
// deterministic (sorted-by-name) order. Kept as a method so signing and
// verification always hash the same bytes.
func (f FilterSpec) Canonical() string {
	s := f.TableName + "|" + f.WhereClause
	for _, name := range f.ParamNames {
		s += "|" + name + "="
		if v, ok := f.ParamValues[name]; ok {
			s += toCanonicalString(v)
		}
	}
	return s
}

func toCanonicalString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
