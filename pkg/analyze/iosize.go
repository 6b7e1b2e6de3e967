package analyze

import (
	"github.com/nickf1227/tn-bench/pkg/telemetry"
)

// IOSizeKB is the average transfer size implied by one interval's
// bandwidth and op rate. Zero ops means zero size, never Inf.
func IOSizeKB(bandwidthMBps, iops float64) float64 {
	if iops <= 0 {
		return 0
	}
	return bandwidthMBps * 1000 / iops
}

// IOSizeBreakdown characterizes the access pattern of one phase: large
// per-op sizes read as sequential, small as random.
type IOSizeBreakdown struct {
	Phase           telemetry.Phase `json:"phase"`
	SampleCount     int             `json:"sample_count"`
	AvgReadKBPerOp  float64         `json:"avg_read_kb_per_op"`
	AvgWriteKBPerOp float64         `json:"avg_write_kb_per_op"`
}

// phaseOrder fixes the breakdown order so reports are stable run to run.
var phaseOrder = []telemetry.Phase{
	telemetry.PhaseRead,
	telemetry.PhaseWrite,
	telemetry.PhaseMixed,
}

// AnalyzeIOSizes computes per-phase average KB/op over a sample
// sequence. Idle samples carry no I/O and are skipped. Only intervals
// with actual ops in a direction count toward that direction's average.
func AnalyzeIOSizes(samples []telemetry.PoolSample) []IOSizeBreakdown {
	byPhase := make(map[telemetry.Phase][]telemetry.PoolSample)
	for _, s := range samples {
		if s.Phase == telemetry.PhaseIdle {
			continue
		}
		byPhase[s.Phase] = append(byPhase[s.Phase], s)
	}

	var out []IOSizeBreakdown
	for _, phase := range phaseOrder {
		group := byPhase[phase]
		if len(group) == 0 {
			continue
		}
		out = append(out, IOSizeBreakdown{
			Phase:       phase,
			SampleCount: len(group),
			AvgReadKBPerOp: averageIOSizeKB(group, func(s telemetry.PoolSample) (float64, float64) {
				return s.ReadBandwidthMBps, s.ReadIOPS
			}),
			AvgWriteKBPerOp: averageIOSizeKB(group, func(s telemetry.PoolSample) (float64, float64) {
				return s.WriteBandwidthMBps, s.WriteIOPS
			}),
		})
	}
	return out
}

func averageIOSizeKB(samples []telemetry.PoolSample, get func(telemetry.PoolSample) (bw, iops float64)) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		bw, iops := get(s)
		if iops <= 0 {
			continue
		}
		sum += IOSizeKB(bw, iops)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
