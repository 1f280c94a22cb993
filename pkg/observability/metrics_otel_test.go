package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestOTelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewOTelMetricsWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCheck(ctx, "role", true, false)
	m.RecordCheck(ctx, "resource", false, false)
	m.RecordOperation(ctx, "CreateRole", time.Millisecond, nil)
	m.RecordOperation(ctx, "DeleteRole", time.Millisecond, errors.New("boom"))
	m.RecordEvent(ctx, "ROLE_CREATED")

	assert.Equal(t, int64(2), collectSum(t, reader, "gatekeeper.permission.checks"))
	assert.Equal(t, int64(2), collectSum(t, reader, "gatekeeper.operations"))
	assert.Equal(t, int64(1), collectSum(t, reader, "gatekeeper.events"))
}

func TestInitOTelDisabled(t *testing.T) {
	log := NewLogger("error", "json", nil)
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, log)
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), nil, log))
}
