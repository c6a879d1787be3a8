package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/failgate/failgate/internal/telemetry"
)

func TestInit_DisabledReturnsNoopProvider(t *testing.T) {
	p, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "failgate-test",
		Enabled:     false,
	})
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.MeterProvider)
	assert.NotNil(t, p.Meter)

	// Instrument creation must still succeed against the noop meter.
	counter, err := p.Meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}

func TestProvider_ShutdownWithoutInit(t *testing.T) {
	p := &telemetry.Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))
}
