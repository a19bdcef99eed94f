// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

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

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := New(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	ctx := context.Background()
	m.AnalysisRun(ctx, "completed", 2*time.Second)
	m.AgentFailure(ctx, "privacy")
	m.AgentFailure(ctx, "ethics")
	m.Decision(ctx, "submission", "expedited", "approved")
	m.Notification(ctx, "evidence", true)
	m.Recomputation(ctx, "computed")
	m.Job(ctx, "run_analysis", "done")

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["irb.analysis.runs"]))
	assert.Equal(t, int64(2), sumOf(t, got["irb.analysis.agent_failures"]))
	assert.Equal(t, int64(1), sumOf(t, got["irb.submission.decisions"]))
	assert.Equal(t, int64(1), sumOf(t, got["irb.notifications"]))
	assert.Equal(t, int64(1), sumOf(t, got["irb.monitor.recomputations"]))
	assert.Equal(t, int64(1), sumOf(t, got["irb.jobs"]))

	hist, ok := got["irb.analysis.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, 2.0, hist.DataPoints[0].Sum)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AnalysisRun(context.Background(), "failed", time.Second)
		m.Decision(context.Background(), "submission", "full", "rejected")
	})
}

func TestDefault(t *testing.T) {
	assert.NotNil(t, Default())
	assert.Same(t, Default(), Default())
}
