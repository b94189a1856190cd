package httpserver

import "github.com/matt-hans/shipagent/internal/domain"

// InterpretedCommand is everything the NL interpreter resolves from one
// conversational turn: a compiler-ready WHERE clause and its bound
// parameters, the service code it inferred (if any), and any warnings it
// wants surfaced to the caller before the clause is signed. The
// interpreter's own internals — parsing free text into this shape — are
// out of scope here; this package only calls it and forwards the result
// to the Job Coordinator.
type InterpretedCommand struct {
	WhereClause string
	Params      map[string]any
	ServiceCode string
	Warnings    []string
}

// Interpreter is the NL-to-filter compiler's external-facing port. A
// session id scopes multi-turn conversations (refine) to the same
// interpreter-side context; it is opaque to this package.
type Interpreter interface {
	Interpret(ctx domain.Context, sessionID, text string) (InterpretedCommand, error)
}
