package analyze

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickf1227/tn-bench/pkg/telemetry"
)

func poolRun(writeIOPS []float64) *telemetry.PoolTelemetry {
	t0 := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	run := &telemetry.PoolTelemetry{Pool: "tank"}
	for i, v := range writeIOPS {
		run.Samples = append(run.Samples, telemetry.PoolSample{
			Timestamp:    t0.Add(time.Duration(i) * time.Second),
			SegmentLabel: "t8_write",
			Phase:        telemetry.PhaseWrite,
			WriteIOPS:    v,
		})
	}
	return run
}

func TestDetectPoolAnomaliesSingleOutlier(t *testing.T) {
	// 99 values hovering around 100 and one at 500. Only the 500 is far
	// enough from the global mean to clear |z| > 3.
	values := make([]float64, 0, 100)
	for i := 0; i < 99; i++ {
		values = append(values, 100+float64(i%5)-2)
	}
	values = append(values, 500)

	got := DetectPoolAnomalies(poolRun(values), 3.0)

	require.Len(t, got, 1)
	rec := got[0]
	assert.Equal(t, "write_iops", rec.Metric)
	assert.InDelta(t, 500, rec.Value, 1e-9)
	assert.Equal(t, DirectionSpike, rec.Direction)
	assert.Greater(t, rec.ZScore, 3.0)
	assert.Equal(t, "t8_write", rec.SegmentLabel)
}

func TestDetectPoolAnomaliesDrop(t *testing.T) {
	values := make([]float64, 0, 100)
	for i := 0; i < 99; i++ {
		values = append(values, 1000+float64(i%7))
	}
	values = append(values, 10)

	got := DetectPoolAnomalies(poolRun(values), 3.0)
	require.Len(t, got, 1)
	assert.Equal(t, DirectionDrop, got[0].Direction)
	assert.Less(t, got[0].ZScore, -3.0)
}

func TestDetectPoolAnomaliesFlatSeries(t *testing.T) {
	// Identical values: stddev 0, nothing to flag, no division blowup.
	got := DetectPoolAnomalies(poolRun([]float64{250, 250, 250, 250}), 3.0)
	assert.Empty(t, got)
}

func TestDetectPoolAnomaliesSparseSeries(t *testing.T) {
	assert.Empty(t, DetectPoolAnomalies(poolRun(nil), 3.0))
	assert.Empty(t, DetectPoolAnomalies(poolRun([]float64{42}), 3.0))
}

func TestDetectPoolAnomaliesMetricsIndependent(t *testing.T) {
	// A latency outlier must not drag IOPS records with it.
	values := make([]float64, 30)
	for i := range values {
		values[i] = 100 + float64(i%5) - 2
	}
	run := poolRun(values)
	for i := range run.Samples {
		run.Samples[i].WriteTotalWaitMs = 2.0
	}
	run.Samples[10].WriteTotalWaitMs = 80.0

	got := DetectPoolAnomalies(run, 3.0)
	require.Len(t, got, 1)
	assert.Equal(t, "write_total_wait_ms", got[0].Metric)
}
