// Package app wires application components and startup helpers.
package app

import (
	"context"
	"fmt"

	"github.com/matt-hans/shipagent/internal/domain"
)

// Pinger is the minimal interface a readiness check needs from the state store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SubprocessReady is the minimal interface a readiness check needs from a
// subprocess supervisor (the data source and carrier connections).
type SubprocessReady interface {
	Ready() bool
}

// BuildReadinessChecks returns three readiness checks — data source
// subprocess, carrier subprocess, and state store — matching §6's
// "readiness fails if either subprocess is not ready."
func BuildReadinessChecks(store Pinger, dataSource, carrier SubprocessReady) (
	dataSourceCheck func(ctx domain.Context) error,
	carrierCheck func(ctx domain.Context) error,
	storeCheck func(ctx domain.Context) error,
) {
	dataSourceCheck = func(domain.Context) error {
		if dataSource == nil || !dataSource.Ready() {
			return fmt.Errorf("data source subprocess not ready")
		}
		return nil
	}
	carrierCheck = func(domain.Context) error {
		if carrier == nil || !carrier.Ready() {
			return fmt.Errorf("carrier subprocess not ready")
		}
		return nil
	}
	storeCheck = func(ctx domain.Context) error {
		if store == nil {
			return fmt.Errorf("store not configured")
		}
		return store.Ping(ctx)
	}
	return dataSourceCheck, carrierCheck, storeCheck
}
