// Package domain defines ShipAgent's core entities, ports, and domain-specific errors.
package domain

import "context"

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context
