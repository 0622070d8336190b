package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/teledigest/pkg/observability"
)

func setupTestMeter(t *testing.T) (*observability.EngineMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	em, err := observability.NewEngineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return em, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func sumByAttr(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()

	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(attribute.Key(key)); found && v.AsString() == value {
			return dp.Value
		}
	}

	return 0
}

func TestEngineMetrics_RecordOutcome(t *testing.T) {
	t.Parallel()

	em, reader := setupTestMeter(t)
	ctx := context.Background()

	em.RecordOutcome(ctx, observability.OutcomeProcessed, 2)
	em.RecordOutcome(ctx, observability.OutcomeSkipped, 1)
	em.RecordOutcome(ctx, observability.OutcomeDuplicate, 0)

	records := findMetric(collectMetrics(t, reader), "teledigest.records.total")

	assert.Equal(t, int64(2), sumByAttr(t, records, "outcome", observability.OutcomeProcessed))
	assert.Equal(t, int64(1), sumByAttr(t, records, "outcome", observability.OutcomeSkipped))
	assert.Zero(t, sumByAttr(t, records, "outcome", observability.OutcomeDuplicate))
}

func TestEngineMetrics_CountersAndDuration(t *testing.T) {
	t.Parallel()

	em, reader := setupTestMeter(t)
	ctx := context.Background()

	em.RecordRepairs(ctx, 4)
	em.RecordUnknownSections(ctx, 2)
	em.RecordConversion(ctx, "miles_to_km")
	em.RecordRetry(ctx)
	em.RecordRetry(ctx)
	em.RecordRun(ctx, observability.StatusOK, 150*time.Millisecond)

	rm := collectMetrics(t, reader)

	repairs := findMetric(rm, "teledigest.repairs.total")
	require.NotNil(t, repairs)
	assert.Equal(t, int64(4), repairs.Data.(metricdata.Sum[int64]).DataPoints[0].Value)

	unknown := findMetric(rm, "teledigest.sections.unknown.total")
	require.NotNil(t, unknown)
	assert.Equal(t, int64(2), unknown.Data.(metricdata.Sum[int64]).DataPoints[0].Value)

	assert.Equal(t, int64(1), sumByAttr(t, findMetric(rm, "teledigest.conversions.total"), "rule", "miles_to_km"))

	retries := findMetric(rm, "teledigest.retries.total")
	require.NotNil(t, retries)
	assert.Equal(t, int64(2), retries.Data.(metricdata.Sum[int64]).DataPoints[0].Value)

	duration := findMetric(rm, "teledigest.run.duration.seconds")
	require.NotNil(t, duration)

	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 0.15, hist.DataPoints[0].Sum, 1e-9)
}

func TestNoopEngineMetrics(t *testing.T) {
	t.Parallel()

	em := observability.NoopEngineMetrics()

	assert.NotPanics(t, func() {
		em.RecordOutcome(context.Background(), observability.OutcomeProcessed, 1)
		em.RecordRun(context.Background(), observability.StatusError, time.Second)
	})
}
