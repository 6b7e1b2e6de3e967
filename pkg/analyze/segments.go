// Package analyze turns a finished telemetry run into per-segment
// statistics, anomaly flags and thread-scaling analysis. Everything here
// is a pure function of the sample sequence; nothing mutates the
// telemetry it is handed.
package analyze

import (
	"time"

	"github.com/nickf1227/tn-bench/pkg/stats"
	"github.com/nickf1227/tn-bench/pkg/telemetry"
)

// ScaledStats is a statistics block with a presentation unit applied.
// Latency blocks whose mean is sub-millisecond are re-expressed in
// microseconds; the choice is made once from the mean and applied to
// every figure in the block so relative comparisons stay valid.
type ScaledStats struct {
	Unit string `json:"unit"`
	stats.Stats
}

// ScaleLatency converts a canonical-milliseconds stats block into its
// presentation form. CV% is scale-independent and passes through.
func ScaleLatency(s stats.Stats) ScaledStats {
	if s.Mean >= 1.0 {
		return ScaledStats{Unit: "ms", Stats: s}
	}
	scaled := s
	for _, f := range []*float64{
		&scaled.Mean, &scaled.Median, &scaled.Min, &scaled.Max, &scaled.StdDev,
		&scaled.P50, &scaled.P75, &scaled.P90, &scaled.P95, &scaled.P99,
	} {
		*f *= 1000
	}
	return ScaledStats{Unit: "us", Stats: scaled}
}

// LatencyStats groups the scaled wait-time blocks of one segment.
type LatencyStats struct {
	ReadTotalWait   ScaledStats `json:"read_total_wait"`
	WriteTotalWait  ScaledStats `json:"write_total_wait"`
	ReadDiskWait    ScaledStats `json:"read_disk_wait"`
	WriteDiskWait   ScaledStats `json:"write_disk_wait"`
	ReadSyncQWait   ScaledStats `json:"read_syncq_wait"`
	WriteSyncQWait  ScaledStats `json:"write_syncq_wait"`
	ReadAsyncQWait  ScaledStats `json:"read_asyncq_wait"`
	WriteAsyncQWait ScaledStats `json:"write_asyncq_wait"`
}

// SegmentStats summarizes the steady-state samples of one segment.
type SegmentStats struct {
	Label              string                  `json:"label"`
	SampleCount        int                     `json:"sample_count"`
	SteadyStateCount   int                     `json:"steady_state_count"`
	PhaseCounts        map[telemetry.Phase]int `json:"phase_counts"`
	ReadIOPS           stats.Stats             `json:"read_iops"`
	WriteIOPS          stats.Stats             `json:"write_iops"`
	ReadBandwidthMBps  stats.Stats             `json:"read_bandwidth_mbps"`
	WriteBandwidthMBps stats.Stats             `json:"write_bandwidth_mbps"`
	Latency            LatencyStats            `json:"latency"`
	AvgReadKBPerOp     float64                 `json:"avg_read_kb_per_op"`
	AvgWriteKBPerOp    float64                 `json:"avg_write_kb_per_op"`
}

// steadyState reports whether a sample belongs in segment statistics:
// captured under a driver-issued label, with actual I/O happening.
// Warmup/cooldown padding and idle gaps between phases are excluded.
func steadyState(s telemetry.PoolSample) bool {
	return !telemetry.ReservedLabel(s.SegmentLabel) && s.Phase != telemetry.PhaseIdle
}

// SummarizeSegments computes per-segment statistics over a pool run,
// ordered by first appearance of each driver-issued label.
func SummarizeSegments(t *telemetry.PoolTelemetry) []SegmentStats {
	var order []string
	bySegment := make(map[string][]telemetry.PoolSample)
	for _, s := range t.Samples {
		if telemetry.ReservedLabel(s.SegmentLabel) || s.SegmentLabel == "" {
			continue
		}
		if _, seen := bySegment[s.SegmentLabel]; !seen {
			order = append(order, s.SegmentLabel)
		}
		bySegment[s.SegmentLabel] = append(bySegment[s.SegmentLabel], s)
	}

	out := make([]SegmentStats, 0, len(order))
	for _, label := range order {
		out = append(out, summarizeSegment(label, bySegment[label]))
	}
	return out
}

func summarizeSegment(label string, samples []telemetry.PoolSample) SegmentStats {
	seg := SegmentStats{
		Label:       label,
		SampleCount: len(samples),
		PhaseCounts: make(map[telemetry.Phase]int),
	}

	var steady []telemetry.PoolSample
	for _, s := range samples {
		seg.PhaseCounts[s.Phase]++
		if steadyState(s) {
			steady = append(steady, s)
		}
	}
	seg.SteadyStateCount = len(steady)

	pick := func(get func(telemetry.PoolSample) float64) []float64 {
		vals := make([]float64, len(steady))
		for i, s := range steady {
			vals[i] = get(s)
		}
		return vals
	}

	seg.ReadIOPS = stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.ReadIOPS }))
	seg.WriteIOPS = stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.WriteIOPS }))
	seg.ReadBandwidthMBps = stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.ReadBandwidthMBps }))
	seg.WriteBandwidthMBps = stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.WriteBandwidthMBps }))

	seg.Latency = LatencyStats{
		ReadTotalWait:   ScaleLatency(stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.ReadTotalWaitMs }))),
		WriteTotalWait:  ScaleLatency(stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.WriteTotalWaitMs }))),
		ReadDiskWait:    ScaleLatency(stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.ReadDiskWaitMs }))),
		WriteDiskWait:   ScaleLatency(stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.WriteDiskWaitMs }))),
		ReadSyncQWait:   ScaleLatency(stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.ReadSyncQWaitMs }))),
		WriteSyncQWait:  ScaleLatency(stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.WriteSyncQWaitMs }))),
		ReadAsyncQWait:  ScaleLatency(stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.ReadAsyncQWaitMs }))),
		WriteAsyncQWait: ScaleLatency(stats.Compute(pick(func(s telemetry.PoolSample) float64 { return s.WriteAsyncQWaitMs }))),
	}

	seg.AvgReadKBPerOp = averageIOSizeKB(steady,
		func(s telemetry.PoolSample) (float64, float64) { return s.ReadBandwidthMBps, s.ReadIOPS })
	seg.AvgWriteKBPerOp = averageIOSizeKB(steady,
		func(s telemetry.PoolSample) (float64, float64) { return s.WriteBandwidthMBps, s.WriteIOPS })

	return seg
}

// ArcSegmentStats summarizes ARC behavior over one segment. L2 blocks are
// present iff the run was collected with a cache vdev.
type ArcSegmentStats struct {
	Label        string       `json:"label"`
	SampleCount  int          `json:"sample_count"`
	HitPct       stats.Stats  `json:"hit_pct"`
	ArcSizeGiB   stats.Stats  `json:"arc_size_gib"`
	MRUPct       stats.Stats  `json:"mru_pct"`
	MFUPct       stats.Stats  `json:"mfu_pct"`
	ZfetchHitPct stats.Stats  `json:"zfetch_hit_pct"`
	L2ARCHitPct  *stats.Stats `json:"l2arc_hit_pct,omitempty"`
	L2ARCSizeGiB *stats.Stats `json:"l2arc_size_gib,omitempty"`
}

// SummarizeArcSegments computes per-segment ARC statistics, ordered by
// first appearance of each driver-issued label.
func SummarizeArcSegments(t *telemetry.ArcTelemetry) []ArcSegmentStats {
	var order []string
	bySegment := make(map[string][]telemetry.ArcSample)
	for _, s := range t.Samples {
		if telemetry.ReservedLabel(s.SegmentLabel) || s.SegmentLabel == "" {
			continue
		}
		if _, seen := bySegment[s.SegmentLabel]; !seen {
			order = append(order, s.SegmentLabel)
		}
		bySegment[s.SegmentLabel] = append(bySegment[s.SegmentLabel], s)
	}

	out := make([]ArcSegmentStats, 0, len(order))
	for _, label := range order {
		samples := bySegment[label]
		pick := func(get func(telemetry.ArcSample) float64) []float64 {
			vals := make([]float64, len(samples))
			for i, s := range samples {
				vals[i] = get(s)
			}
			return vals
		}

		seg := ArcSegmentStats{
			Label:        label,
			SampleCount:  len(samples),
			HitPct:       stats.Compute(pick(func(s telemetry.ArcSample) float64 { return s.HitPct })),
			ArcSizeGiB:   stats.Compute(pick(func(s telemetry.ArcSample) float64 { return s.ArcSizeGiB })),
			MRUPct:       stats.Compute(pick(func(s telemetry.ArcSample) float64 { return s.MRUPct })),
			MFUPct:       stats.Compute(pick(func(s telemetry.ArcSample) float64 { return s.MFUPct })),
			ZfetchHitPct: stats.Compute(pick(func(s telemetry.ArcSample) float64 { return s.ZfetchHitPct })),
		}
		if t.HasL2ARC {
			hit := stats.Compute(pick(func(s telemetry.ArcSample) float64 {
				if s.L2ARCHitPct == nil {
					return 0
				}
				return *s.L2ARCHitPct
			}))
			size := stats.Compute(pick(func(s telemetry.ArcSample) float64 {
				if s.L2ARCSizeGiB == nil {
					return 0
				}
				return *s.L2ARCSizeGiB
			}))
			seg.L2ARCHitPct = &hit
			seg.L2ARCSizeGiB = &size
		}
		out = append(out, seg)
	}
	return out
}

// RunSummary is the full derived view of one pool telemetry run.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	Pool         string        `json:"pool"`
	Duration     time.Duration `json:"duration_ns"`
	TotalSamples int           `json:"total_samples"`
	Incomplete   bool          `json:"incomplete,omitempty"`

	WarmupSamples   int `json:"warmup_samples"`
	CooldownSamples int `json:"cooldown_samples"`
	SteadySamples   int `json:"steady_samples"`

	PhaseCounts map[telemetry.Phase]int `json:"phase_counts"`

	CapacityUsedStartGiB float64 `json:"capacity_used_start_gib"`
	CapacityUsedEndGiB   float64 `json:"capacity_used_end_gib"`
	CapacityUsedMinGiB   float64 `json:"capacity_used_min_gib"`
	CapacityUsedMaxGiB   float64 `json:"capacity_used_max_gib"`
	CapacityDeltaGiB     float64 `json:"capacity_delta_gib"`

	Segments  []SegmentStats    `json:"segments"`
	IOSizes   []IOSizeBreakdown `json:"io_sizes"`
	Anomalies []AnomalyRecord   `json:"anomalies,omitempty"`
}

// SummarizeRun derives the complete analysis of a pool run: segment
// statistics, per-phase I/O sizes, capacity movement and anomaly flags.
func SummarizeRun(t *telemetry.PoolTelemetry, zThreshold float64) RunSummary {
	sum := RunSummary{
		RunID:        t.RunID,
		Pool:         t.Pool,
		Duration:     t.Duration(),
		TotalSamples: len(t.Samples),
		Incomplete:   t.Incomplete,
		PhaseCounts:  make(map[telemetry.Phase]int),
		Segments:     SummarizeSegments(t),
		IOSizes:      AnalyzeIOSizes(t.Samples),
		Anomalies:    DetectPoolAnomalies(t, zThreshold),
	}

	for _, s := range t.Samples {
		sum.PhaseCounts[s.Phase]++
		switch {
		case s.SegmentLabel == telemetry.LabelWarmup:
			sum.WarmupSamples++
		case s.SegmentLabel == telemetry.LabelCooldown:
			sum.CooldownSamples++
		case steadyState(s):
			sum.SteadySamples++
		}
	}

	if len(t.Samples) > 0 {
		sum.CapacityUsedStartGiB = t.Samples[0].CapacityUsedGiB
		sum.CapacityUsedEndGiB = t.Samples[len(t.Samples)-1].CapacityUsedGiB
		sum.CapacityUsedMinGiB = t.Samples[0].CapacityUsedGiB
		for _, s := range t.Samples {
			if s.CapacityUsedGiB < sum.CapacityUsedMinGiB {
				sum.CapacityUsedMinGiB = s.CapacityUsedGiB
			}
			if s.CapacityUsedGiB > sum.CapacityUsedMaxGiB {
				sum.CapacityUsedMaxGiB = s.CapacityUsedGiB
			}
		}
		sum.CapacityDeltaGiB = sum.CapacityUsedEndGiB - sum.CapacityUsedStartGiB
	}
	return sum
}
