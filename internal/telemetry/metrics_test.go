package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != RetrievalMetricsMeterName {
			continue
		}
		for _, m := range scope.Metrics {
			found[m.Name] = m
		}
	}
	return found
}

func TestNewRetrievalMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewRetrievalMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("nil metrics record nothing", func(t *testing.T) {
		t.Parallel()

		var metrics *RetrievalMetrics
		metrics.RecordFetch(context.Background(), "tag", "Done", time.Second, true)
		metrics.RecordTagResolution(context.Background(), "major-minor", true)
		metrics.RecordStatementsApplied(context.Background(), 3, true)
	})
}

func TestRetrievalMetrics_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewRetrievalMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	ctx := context.Background()
	metrics.RecordFetch(ctx, "branch", "Done", 1500*time.Millisecond, true)
	metrics.RecordTagResolution(ctx, "semver", true)
	metrics.RecordTagResolution(ctx, "semver", true)
	metrics.RecordStatementsApplied(ctx, 12, true)

	found := collect(t, reader)

	hist, ok := found[fetchDurationMetric].Data.(metricdata.Histogram[float64])
	require.True(t, ok, "expected histogram data type")
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 1.5, hist.DataPoints[0].Sum, 0.001)

	resolutions, ok := found[tagResolutionsMetric].Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected sum data type")
	require.Len(t, resolutions.DataPoints, 1)
	assert.Equal(t, int64(2), resolutions.DataPoints[0].Value)

	statements, ok := found[statementsAppliedName].Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected sum data type")
	require.Len(t, statements.DataPoints, 1)
	assert.Equal(t, int64(12), statements.DataPoints[0].Value)
}
