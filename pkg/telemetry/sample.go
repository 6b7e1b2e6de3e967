// Package telemetry collects storage-stack statistics in the background
// while a benchmark workload runs. A collector owns one external child
// process and one polling goroutine; the driver marks workload segment
// boundaries and receives the full ordered sample sequence on Stop.
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Phase classifies a sample's I/O activity.
type Phase string

const (
	PhaseIdle  Phase = "idle"
	PhaseRead  Phase = "read"
	PhaseWrite Phase = "write"
	PhaseMixed Phase = "mixed"
)

// Reserved segment labels for samples captured outside the active window.
// Warmup and cooldown samples are retained, not dropped, so the idle
// baseline stays comparable against active phases.
const (
	LabelWarmup   = "warmup"
	LabelCooldown = "cooldown"
)

// ReservedLabel reports whether a segment label is one of the collector's
// own sentinels rather than a driver-issued segment.
func ReservedLabel(label string) bool {
	return label == LabelWarmup || label == LabelCooldown
}

// PoolSample is one polled observation of pool iostat telemetry.
// Bandwidth is canonical MB/s, latencies canonical milliseconds.
type PoolSample struct {
	Timestamp    time.Time `json:"timestamp"`
	SegmentLabel string    `json:"segment_label"`
	Phase        Phase     `json:"phase"`

	ReadIOPS  float64 `json:"read_iops"`
	WriteIOPS float64 `json:"write_iops"`

	ReadBandwidthMBps  float64 `json:"read_bandwidth_mbps"`
	WriteBandwidthMBps float64 `json:"write_bandwidth_mbps"`

	ReadTotalWaitMs  float64 `json:"read_total_wait_ms"`
	WriteTotalWaitMs float64 `json:"write_total_wait_ms"`

	ReadDiskWaitMs  float64 `json:"read_disk_wait_ms"`
	WriteDiskWaitMs float64 `json:"write_disk_wait_ms"`

	ReadSyncQWaitMs  float64 `json:"read_syncq_wait_ms"`
	WriteSyncQWaitMs float64 `json:"write_syncq_wait_ms"`

	ReadAsyncQWaitMs  float64 `json:"read_asyncq_wait_ms"`
	WriteAsyncQWaitMs float64 `json:"write_asyncq_wait_ms"`

	// Scrub and trim wait have no read/write split; they are "-" on a
	// pool with no scrub or trim running.
	ScrubWaitMs float64 `json:"scrub_wait_ms"`
	TrimWaitMs  float64 `json:"trim_wait_ms"`

	CapacityUsedGiB  float64 `json:"capacity_used_gib"`
	CapacityAvailGiB float64 `json:"capacity_avail_gib"`
}

// ArcSample is one polled observation of ARC cache telemetry.
// The L2ARC fields are present on every sample of a run or on none,
// decided once at collector construction.
type ArcSample struct {
	Timestamp    time.Time `json:"timestamp"`
	SegmentLabel string    `json:"segment_label"`

	HitPct        float64 `json:"hit_pct"`
	ArcSizeGiB    float64 `json:"arc_size_gib"`
	MRUPct        float64 `json:"mru_pct"`
	MFUPct        float64 `json:"mfu_pct"`
	ZfetchHitPct  float64 `json:"zfetch_hit_pct"`

	L2ARCHitPct  *float64 `json:"l2arc_hit_pct,omitempty"`
	L2ARCSizeGiB *float64 `json:"l2arc_size_gib,omitempty"`
}

// PoolTelemetry is the finalized result of one pool collection run.
// It is handed to the reporting layer as-is and never mutated afterwards.
type PoolTelemetry struct {
	RunID           string    `json:"run_id"`
	Pool            string    `json:"pool"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	WarmupSamples   int       `json:"warmup_samples"`
	CooldownSamples int       `json:"cooldown_samples"`

	// Incomplete marks a run whose source died and exhausted its restart
	// budget. The samples captured before the failure are still valid.
	Incomplete    bool     `json:"incomplete,omitempty"`
	ParseWarnings []string `json:"parse_warnings,omitempty"`

	Samples []PoolSample `json:"samples"`
}

func (t *PoolTelemetry) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// SamplesBySegment returns the samples carrying a specific segment label.
func (t *PoolTelemetry) SamplesBySegment(label string) []PoolSample {
	var out []PoolSample
	for _, s := range t.Samples {
		if s.SegmentLabel == label {
			out = append(out, s)
		}
	}
	return out
}

// Downsample keeps every n-th sample, for trimming report payloads.
// n <= 1 returns the samples unchanged.
func (t *PoolTelemetry) Downsample(n int) []PoolSample {
	if n <= 1 {
		return t.Samples
	}
	var out []PoolSample
	for i := 0; i < len(t.Samples); i += n {
		out = append(out, t.Samples[i])
	}
	return out
}

// ArcTelemetry is the finalized result of one ARC collection run.
type ArcTelemetry struct {
	RunID           string    `json:"run_id"`
	Pool            string    `json:"pool"`
	HasL2ARC        bool      `json:"has_l2arc"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	WarmupSamples   int       `json:"warmup_samples"`
	CooldownSamples int       `json:"cooldown_samples"`

	Incomplete    bool     `json:"incomplete,omitempty"`
	ParseWarnings []string `json:"parse_warnings,omitempty"`

	Samples []ArcSample `json:"samples"`
}

func (t *ArcTelemetry) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// SamplesBySegment returns the samples carrying a specific segment label.
func (t *ArcTelemetry) SamplesBySegment(label string) []ArcSample {
	var out []ArcSample
	for _, s := range t.Samples {
		if s.SegmentLabel == label {
			out = append(out, s)
		}
	}
	return out
}

func newRunID() string {
	return uuid.NewString()
}
