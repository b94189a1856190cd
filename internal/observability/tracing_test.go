package observability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-hans/shipagent/internal/config"
	"github.com/matt-hans/shipagent/internal/observability"
)

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := observability.SetupTracing(config.Config{OTELServiceName: "shipagent"})
	require.NoError(t, err)
	assert.Nil(t, shutdown)
}
