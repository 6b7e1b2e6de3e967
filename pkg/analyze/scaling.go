package analyze

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ScalingPoint is one benchmark configuration's average result, supplied
// by the driver from its own workload timing, not from raw telemetry.
type ScalingPoint struct {
	Threads        int     `json:"threads"`
	WriteSpeedMBps float64 `json:"write_speed_mbps"`
	ReadSpeedMBps  float64 `json:"read_speed_mbps"`
}

// ScalingDelta is the change between two consecutive thread counts.
type ScalingDelta struct {
	FromThreads   int     `json:"from_threads"`
	ToThreads     int     `json:"to_threads"`
	FromSpeedMBps float64 `json:"from_speed_mbps"`
	ToSpeedMBps   float64 `json:"to_speed_mbps"`
	PercentChange float64 `json:"percent_change"`

	// Undefined marks a delta out of a zero baseline, where percent
	// change has no meaning.
	Undefined bool `json:"undefined,omitempty"`
}

// DirectionScaling is the scaling analysis of one I/O direction.
type DirectionScaling struct {
	PeakSpeedMBps float64 `json:"peak_speed_mbps"`
	PeakThreads   int     `json:"peak_threads"`

	// EfficiencyMBpsPerThread is peak speed over peak thread count, a
	// rough per-thread yield at the best configuration.
	EfficiencyMBpsPerThread float64 `json:"efficiency_mbps_per_thread"`

	// LinearSpeedup is peak speed over the lowest-thread baseline speed.
	// ScalingEfficiencyPct compares it against the ideal speedup for the
	// same thread ratio: 100 means perfectly linear scaling.
	LinearSpeedup        float64 `json:"linear_speedup,omitempty"`
	ScalingEfficiencyPct float64 `json:"scaling_efficiency_pct,omitempty"`

	// TrendSlope is the least-squares slope of speed over threads across
	// all points, MB/s gained per added thread.
	TrendSlope float64 `json:"trend_slope"`

	// KneeThreads is the thread count where the curve visibly flattens,
	// 0 when the input is too sparse to tell.
	KneeThreads int `json:"knee_threads"`

	Deltas       []ScalingDelta `json:"deltas"`
	Observations []string       `json:"observations,omitempty"`
}

// ScalingAnalysis covers both directions of one thread sweep.
type ScalingAnalysis struct {
	Write DirectionScaling `json:"write"`
	Read  DirectionScaling `json:"read"`
}

// ScalingConfig holds the observation thresholds. These are heuristics,
// not truths; keep them adjustable.
type ScalingConfig struct {
	// MinGainPct is the floor below which a positive transition counts
	// as diminishing returns.
	MinGainPct float64
	// LargeGainPct is how big an earlier gain must have been for a small
	// one to be worth remarking on.
	LargeGainPct float64
}

// DefaultScalingConfig matches the report layer's stock thresholds.
func DefaultScalingConfig() ScalingConfig {
	return ScalingConfig{MinGainPct: 5, LargeGainPct: 25}
}

// AnalyzeScaling computes peaks, per-thread efficiency, consecutive
// deltas and neutral observations for both directions of a thread sweep.
// Points are analyzed in ascending thread order regardless of input
// order; the input slice is not modified.
func AnalyzeScaling(points []ScalingPoint, cfg ScalingConfig) ScalingAnalysis {
	sorted := make([]ScalingPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Threads < sorted[j].Threads })

	return ScalingAnalysis{
		Write: analyzeDirection(sorted, cfg, "write", func(p ScalingPoint) float64 { return p.WriteSpeedMBps }),
		Read:  analyzeDirection(sorted, cfg, "read", func(p ScalingPoint) float64 { return p.ReadSpeedMBps }),
	}
}

func analyzeDirection(points []ScalingPoint, cfg ScalingConfig, direction string, speed func(ScalingPoint) float64) DirectionScaling {
	var d DirectionScaling
	if len(points) == 0 {
		return d
	}

	for _, p := range points {
		if speed(p) > d.PeakSpeedMBps {
			d.PeakSpeedMBps = speed(p)
			d.PeakThreads = p.Threads
		}
	}
	if d.PeakThreads > 0 {
		d.EfficiencyMBpsPerThread = d.PeakSpeedMBps / float64(d.PeakThreads)
	}

	// Speedup relative to the lowest-thread configuration with a usable
	// baseline speed.
	base := points[0]
	if speed(base) > 0 && base.Threads > 0 && d.PeakThreads > base.Threads {
		d.LinearSpeedup = d.PeakSpeedMBps / speed(base)
		ideal := float64(d.PeakThreads) / float64(base.Threads)
		d.ScalingEfficiencyPct = d.LinearSpeedup / ideal * 100
	}

	if len(points) >= 2 {
		xs := make([]float64, len(points))
		ys := make([]float64, len(points))
		for i, p := range points {
			xs[i] = float64(p.Threads)
			ys[i] = speed(p)
		}
		_, d.TrendSlope = stat.LinearRegression(xs, ys, nil, false)
		d.KneeThreads = kneeThreads(xs, ys)
	}

	largestGainSoFar := 0.0
	for i := 1; i < len(points); i++ {
		prev, next := points[i-1], points[i]
		delta := ScalingDelta{
			FromThreads:   prev.Threads,
			ToThreads:     next.Threads,
			FromSpeedMBps: speed(prev),
			ToSpeedMBps:   speed(next),
		}
		if speed(prev) == 0 {
			delta.Undefined = true
		} else {
			delta.PercentChange = (speed(next) - speed(prev)) / speed(prev) * 100
		}
		d.Deltas = append(d.Deltas, delta)

		switch {
		case delta.Undefined:
		case delta.PercentChange < 0:
			d.Observations = append(d.Observations, fmt.Sprintf(
				"%s speed decreased %.1f%% from %d to %d threads",
				direction, -delta.PercentChange, prev.Threads, next.Threads))
		case delta.PercentChange < cfg.MinGainPct && largestGainSoFar >= cfg.LargeGainPct:
			d.Observations = append(d.Observations, fmt.Sprintf(
				"%s gains diminish above %d threads (+%.1f%% vs +%.1f%% earlier)",
				direction, prev.Threads, delta.PercentChange, largestGainSoFar))
		}
		if !delta.Undefined && delta.PercentChange > largestGainSoFar {
			largestGainSoFar = delta.PercentChange
		}
	}
	return d
}
