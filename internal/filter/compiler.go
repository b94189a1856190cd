// Package filter validates and signs the WHERE-clause fragment an
// external NL interpreter proposes, so that everything downstream of
// the Data Gateway's query_rows/count_rows calls can trust it came from
// this one gate rather than re-parsing user text itself.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dolthub/vitess/go/vt/sqlparser"

	"github.com/matt-hans/shipagent/internal/domain"
)

// allowedFuncs is the function allow-list for proposed WHERE clauses.
// Anything not on this list is rejected, fail-closed.
var allowedFuncs = map[string]bool{
	"lower": true, "upper": true, "trim": true,
	"date": true, "datetime": true, "cast": true,
	"coalesce": true, "length": true,
}

// Compiler validates a proposed WHERE clause against a schema and signs
// the canonical result with an HMAC secret.
type Compiler struct {
	secret []byte
}

// NewCompiler constructs a Compiler. secret must be at least 32 bytes
// (the FilterSpec signing key's minimum length, per configuration).
func NewCompiler(secret []byte) (*Compiler, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("op=filter.new_compiler: %w: secret must be >= 32 bytes", domain.ErrInvalidArgument)
	}
	return &Compiler{secret: secret}, nil
}

// Compile parses whereClause against schema, canonicalizes it, and
// returns a signed FilterSpec. generation and jobID/originCommand are
// supplied by the caller (the Job Coordinator) so a refine can reuse
// this function unchanged.
func (c *Compiler) Compile(jobID, originCommand, whereClause string, schema Schema, generation int, params map[string]any) (domain.FilterSpec, error) {
	canonical, paramNames, err := c.validateAndCanonicalize(whereClause, schema, params)
	if err != nil {
		return domain.FilterSpec{}, err
	}

	spec := domain.FilterSpec{
		JobID:         jobID,
		Generation:    generation,
		TableName:     schema.Table,
		WhereClause:   canonical,
		ParamNames:    paramNames,
		ParamValues:   params,
		OriginCommand: originCommand,
	}
	spec.Signature = c.sign(spec)
	return spec, nil
}

// Verify recomputes the signature over spec's canonical form and
// compares it in constant time against spec.Signature.
func (c *Compiler) Verify(spec domain.FilterSpec) error {
	want := c.sign(spec)
	if !hmacEqual(want, spec.Signature) {
		return fmt.Errorf("op=filter.verify: %w", domain.ErrUnsignedFilter)
	}
	return nil
}

// validateAndCanonicalize parses the clause, rejects anything outside
// the allowed surface, and returns a deterministic string form plus the
// sorted parameter names referenced.
func (c *Compiler) validateAndCanonicalize(whereClause string, schema Schema, params map[string]any) (string, []string, error) {
	if strings.TrimSpace(whereClause) == "" {
		return "", nil, fmt.Errorf("op=filter.validate: %w: empty clause", domain.ErrInvalidArgument)
	}

	wrapped := fmt.Sprintf("SELECT 1 FROM %s WHERE %s", schema.Table, whereClause)
	stmt, err := sqlparser.Parse(wrapped)
	if err != nil {
		return "", nil, fmt.Errorf("op=filter.validate.parse: %w: %v", domain.ErrInvalidArgument, err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return "", nil, fmt.Errorf("op=filter.validate: %w: not a SELECT", domain.ErrInvalidArgument)
	}
	if len(sel.From) != 1 {
		return "", nil, fmt.Errorf("op=filter.validate: %w: joins are not allowed", domain.ErrInvalidArgument)
	}
	if sel.Where == nil {
		return "", nil, fmt.Errorf("op=filter.validate: %w: missing WHERE", domain.ErrInvalidArgument)
	}

	columns := map[string]bool{}
	err = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.Subquery:
			return false, fmt.Errorf("op=filter.validate: %w: subqueries are not allowed", domain.ErrInvalidArgument)
		case *sqlparser.JoinTableExpr:
			return false, fmt.Errorf("op=filter.validate: %w: joins are not allowed", domain.ErrInvalidArgument)
		case *sqlparser.FuncExpr:
			name := strings.ToLower(n.Name.String())
			if !allowedFuncs[name] {
				return false, fmt.Errorf("op=filter.validate: %w: function %q is not on the allow-list", domain.ErrInvalidArgument, name)
			}
		case *sqlparser.ColName:
			col := n.Name.String()
			typ, ok := schema.has(col)
			if !ok {
				return false, fmt.Errorf("op=filter.validate: %w: unknown column %q", domain.ErrInvalidArgument, col)
			}
			columns[col] = true
			_ = typ
		case *sqlparser.ComparisonExpr:
			if err := checkComparisonTypes(n, schema); err != nil {
				return false, err
			}
		}
		return true, nil
	}, sel.Where.Expr)
	if err != nil {
		return "", nil, err
	}

	canonical := canonicalizeWhere(sel.Where.Expr)

	var paramNames []string
	for name := range params {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)

	return canonical, paramNames, nil
}

// checkComparisonTypes rejects a bare string literal compared directly
// against a numeric column; an explicit CAST/function wrapping the
// literal is required instead (caught via the ColName/FuncExpr walk,
// this only guards the direct-literal case).
func checkComparisonTypes(cmp *sqlparser.ComparisonExpr, schema Schema) error {
	col, isCol := cmp.Left.(*sqlparser.ColName)
	lit, isLit := cmp.Right.(*sqlparser.Literal)
	if !isCol || !isLit {
		return nil
	}
	typ, ok := schema.has(col.Name.String())
	if !ok {
		return nil // reported separately by the ColName case
	}
	if typ == ColumnNumeric && lit.Type == sqlparser.StrVal {
		return fmt.Errorf("op=filter.validate: %w: string literal compared against numeric column %q requires an explicit CAST",
			domain.ErrInvalidArgument, col.Name.String())
	}
	return nil
}

// canonicalizeWhere flattens a top-level AND tree, sorts its conjuncts'
// string forms, and rejoins them — so two semantically identical clauses
// proposed in a different order sign identically.
func canonicalizeWhere(expr sqlparser.Expr) string {
	conjuncts := flattenAnd(expr)
	terms := make([]string, 0, len(conjuncts))
	for _, e := range conjuncts {
		terms = append(terms, strings.Join(strings.Fields(sqlparser.String(e)), " "))
	}
	sort.Strings(terms)
	return strings.Join(terms, " AND ")
}

func flattenAnd(expr sqlparser.Expr) []sqlparser.Expr {
	if and, ok := expr.(*sqlparser.AndExpr); ok {
		return append(flattenAnd(and.Left), flattenAnd(and.Right)...)
	}
	return []sqlparser.Expr{expr}
}
