package analyze

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nickf1227/tn-bench/pkg/telemetry"
)

// Direction says which side of the mean an anomalous value sits on.
// Whether a spike is good news (IOPS) or bad news (latency) is the
// report layer's call, not the detector's.
type Direction string

const (
	DirectionSpike Direction = "spike"
	DirectionDrop  Direction = "drop"
)

// AnomalyRecord flags one sample value whose z-score magnitude exceeded
// the detection threshold for its metric.
type AnomalyRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	SegmentLabel string    `json:"segment_label"`
	Metric       string    `json:"metric"`
	Value        float64   `json:"value"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"stddev"`
	ZScore       float64   `json:"z_score"`
	Direction    Direction `json:"direction"`
}

// poolMetrics are the series the detector scans independently; an
// outlier in one says nothing about the others.
var poolMetrics = []struct {
	name string
	get  func(telemetry.PoolSample) float64
}{
	{"read_iops", func(s telemetry.PoolSample) float64 { return s.ReadIOPS }},
	{"write_iops", func(s telemetry.PoolSample) float64 { return s.WriteIOPS }},
	{"read_bandwidth_mbps", func(s telemetry.PoolSample) float64 { return s.ReadBandwidthMBps }},
	{"write_bandwidth_mbps", func(s telemetry.PoolSample) float64 { return s.WriteBandwidthMBps }},
	{"read_total_wait_ms", func(s telemetry.PoolSample) float64 { return s.ReadTotalWaitMs }},
	{"write_total_wait_ms", func(s telemetry.PoolSample) float64 { return s.WriteTotalWaitMs }},
}

// DetectPoolAnomalies scans each pool metric series for samples whose
// z-score magnitude exceeds zThreshold. Mean and stddev are global over
// the whole run, so a run-wide shift dilutes rather than multiplies
// flags. A flat series (stddev 0) yields no anomalies.
func DetectPoolAnomalies(t *telemetry.PoolTelemetry, zThreshold float64) []AnomalyRecord {
	var out []AnomalyRecord
	for _, m := range poolMetrics {
		values := make([]float64, len(t.Samples))
		for i, s := range t.Samples {
			values[i] = m.get(s)
		}
		for _, idx := range flagOutliers(values, zThreshold) {
			s := t.Samples[idx.index]
			out = append(out, AnomalyRecord{
				Timestamp:    s.Timestamp,
				SegmentLabel: s.SegmentLabel,
				Metric:       m.name,
				Value:        values[idx.index],
				Mean:         idx.mean,
				StdDev:       idx.stddev,
				ZScore:       idx.z,
				Direction:    idx.direction(),
			})
		}
	}
	return out
}

type outlier struct {
	index  int
	mean   float64
	stddev float64
	z      float64
}

func (o outlier) direction() Direction {
	if o.z > 0 {
		return DirectionSpike
	}
	return DirectionDrop
}

// flagOutliers returns the indices whose |z| exceeds the threshold.
// Fewer than two values can't define a deviation; identical values have
// stddev 0 and flag nothing.
func flagOutliers(values []float64, zThreshold float64) []outlier {
	if len(values) < 2 {
		return nil
	}
	mean, stddev := stat.MeanStdDev(values, nil)
	if stddev == 0 || math.IsNaN(stddev) {
		return nil
	}

	var out []outlier
	for i, v := range values {
		z := (v - mean) / stddev
		if math.Abs(z) > zThreshold {
			out = append(out, outlier{index: i, mean: mean, stddev: stddev, z: z})
		}
	}
	return out
}
