package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"

	"github.com/nickf1227/tn-bench/pkg/units"
)

type direction int

const (
	dirNone direction = iota
	dirRead
	dirWrite
)

type tokenKind int

const (
	kindCapacity tokenKind = iota
	kindOps
	kindBandwidth
	kindLatency
)

// poolColumn binds one positional token of a zpool iostat line to a field.
type poolColumn struct {
	index int
	field string
	dir   direction
	kind  tokenKind
}

// poolColumns is the versioned column contract for `zpool iostat -H -l`.
//
// The latency groups are interleaved read/write PAIRS (total_r total_w
// disk_r disk_w syncq_r syncq_w asyncq_r asyncq_w), not all-reads followed
// by all-writes. An earlier revision of this tool read them grouped by
// type and silently swapped disk-wait and total-wait figures; keep this
// table in lockstep with the golden test in iostat_test.go.
var poolColumns = []poolColumn{
	{1, "capacity_used", dirNone, kindCapacity},
	{2, "capacity_avail", dirNone, kindCapacity},
	{3, "iops", dirRead, kindOps},
	{4, "iops", dirWrite, kindOps},
	{5, "bandwidth", dirRead, kindBandwidth},
	{6, "bandwidth", dirWrite, kindBandwidth},
	{7, "total_wait", dirRead, kindLatency},
	{8, "total_wait", dirWrite, kindLatency},
	{9, "disk_wait", dirRead, kindLatency},
	{10, "disk_wait", dirWrite, kindLatency},
	{11, "syncq_wait", dirRead, kindLatency},
	{12, "syncq_wait", dirWrite, kindLatency},
	{13, "asyncq_wait", dirRead, kindLatency},
	{14, "asyncq_wait", dirWrite, kindLatency},
	{15, "scrub_wait", dirNone, kindLatency},
	{16, "trim_wait", dirNone, kindLatency},
}

const poolTokenCount = 17 // pool name + the 16 columns above

// intervalSeconds renders a polling interval as the whole-second argv
// token the stats tools expect, clamped to 1 so a sub-second interval
// never produces a zero (print-once) argument.
func intervalSeconds(d time.Duration) string {
	s := int(d.Seconds())
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}

// PoolCollectorOptions configure a pool iostat collector.
type PoolCollectorOptions struct {
	Pool           string
	Interval       time.Duration
	MaxRestarts    int
	IdleEpsilonOps float64
	Logger         *zap.Logger

	// Source overrides the zpool iostat child process; used by tests.
	Source Source
}

// PoolCollector samples pool iostat telemetry in the background.
type PoolCollector struct {
	opts PoolCollectorOptions
	eng  *engine

	telem   *PoolTelemetry
	started bool

	// Live quantiles over total IOPS so far, for in-flight progress
	// display without touching the sample buffer. Guarded by eng.mu.
	liveIOPS *hdrhistogram.Histogram

	stopOnce sync.Once
	final    *PoolTelemetry
}

// NewPoolCollector builds a collector for one pool. Nothing is spawned
// until Start.
func NewPoolCollector(opts PoolCollectorOptions) *PoolCollector {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	src := opts.Source
	if src == nil {
		// -H scripted mode (no headers), -l latency columns.
		src = newExecSource([]string{
			"zpool", "iostat", "-H", "-l",
			opts.Pool,
			intervalSeconds(opts.Interval),
		})
	}

	c := &PoolCollector{
		opts:     opts,
		liveIOPS: hdrhistogram.New(1, 100_000_000, 3),
	}
	c.eng = newEngine(src, opts.Interval, opts.MaxRestarts, opts.Logger.With(zap.String("pool", opts.Pool)))
	c.eng.ingest = c.ingest
	return c
}

// Start begins background polling. Warmup samples are captured under the
// reserved warmup label, not discarded. Fails fast with
// ErrSourceUnavailable when the external tool cannot be spawned; the
// caller may proceed without this telemetry stream.
func (c *PoolCollector) Start(warmupCount int) error {
	c.telem = &PoolTelemetry{
		RunID:         newRunID(),
		Pool:          c.opts.Pool,
		StartTime:     time.Now(),
		WarmupSamples: warmupCount,
	}
	if err := c.eng.start(warmupCount); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Segment marks a workload segment boundary. Non-blocking; safe to call
// from the driver goroutine while polling continues.
func (c *PoolCollector) Segment(label string) {
	c.eng.segment(label)
}

// Stop captures cooldownCount more samples, terminates the child process
// and polling goroutine on all paths, and returns the finalized ordered
// telemetry. Idempotent: later calls return the same result.
func (c *PoolCollector) Stop(cooldownCount int) *PoolTelemetry {
	c.stopOnce.Do(func() {
		if !c.started {
			if c.telem == nil {
				c.telem = &PoolTelemetry{Pool: c.opts.Pool}
			}
			c.final = c.telem
			return
		}
		c.eng.stop(cooldownCount)
		c.telem.CooldownSamples = cooldownCount
		c.telem.EndTime = time.Now()
		c.telem.Incomplete = c.eng.isIncomplete()
		c.final = c.telem
	})
	return c.final
}

// SampleCount returns the number of samples captured so far.
func (c *PoolCollector) SampleCount() int { return c.eng.sampleCount() }

// CurrentState exposes the lifecycle state, mostly for the driver's
// progress display.
func (c *PoolCollector) CurrentState() State { return c.eng.currentState() }

// LiveIOPS returns the q-th percentile (0-100) of total IOPS over the run
// so far.
func (c *PoolCollector) LiveIOPS(q float64) float64 {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	return float64(c.liveIOPS.ValueAtQuantile(q))
}

// ingest parses one iostat line. Called with the engine mutex held.
func (c *PoolCollector) ingest(line string, ts time.Time, label string) bool {
	sample, warnings, ok := parsePoolLine(line)
	if !ok {
		return false
	}

	sample.Timestamp = ts
	sample.SegmentLabel = label
	sample.Phase = ClassifyPhase(sample.ReadIOPS, sample.WriteIOPS, c.opts.IdleEpsilonOps)

	for _, w := range warnings {
		c.telem.ParseWarnings = append(c.telem.ParseWarnings, w)
		c.opts.Logger.Warn("iostat parse warning", zap.String("detail", w))
	}

	c.telem.Samples = append(c.telem.Samples, sample)
	_ = c.liveIOPS.RecordValue(int64(sample.ReadIOPS + sample.WriteIOPS))
	return true
}

// parsePoolLine converts one scripted-mode iostat line into a sample.
// Header and separator lines return ok=false. A malformed token zeroes
// that one field and records a warning; the sample is still captured.
func parsePoolLine(line string) (PoolSample, []string, bool) {
	fields := strings.Fields(line)
	if len(fields) < poolTokenCount {
		return PoolSample{}, nil, false
	}
	// Periodic headers only appear without -H, but skipping them here
	// keeps the parser safe against tool-version drift.
	if fields[0] == "pool" || strings.HasPrefix(fields[0], "-") || fields[0] == "capacity" {
		return PoolSample{}, nil, false
	}

	var s PoolSample
	var warnings []string

	for _, col := range poolColumns {
		token := fields[col.index]

		var v float64
		var ok bool
		switch col.kind {
		case kindLatency:
			v, ok = units.ParseLatencyMs(token)
		case kindBandwidth:
			v, ok = units.ParseBandwidthMBps(token)
		case kindCapacity:
			raw, rawOK := units.ParseMagnitude(token)
			v, ok = units.BytesToGiB(raw), rawOK
		default:
			v, ok = units.ParseMagnitude(token)
		}
		if !ok && token != "-" {
			warnings = append(warnings, fmt.Sprintf("bad %s token %q at column %d", columnName(col), token, col.index))
		}

		s.assign(col, v)
	}
	return s, warnings, true
}

func columnName(col poolColumn) string {
	switch col.dir {
	case dirRead:
		return col.field + "_read"
	case dirWrite:
		return col.field + "_write"
	default:
		return col.field
	}
}

func (s *PoolSample) assign(col poolColumn, v float64) {
	read := col.dir == dirRead
	switch col.field {
	case "capacity_used":
		s.CapacityUsedGiB = v
	case "capacity_avail":
		s.CapacityAvailGiB = v
	case "iops":
		if read {
			s.ReadIOPS = v
		} else {
			s.WriteIOPS = v
		}
	case "bandwidth":
		if read {
			s.ReadBandwidthMBps = v
		} else {
			s.WriteBandwidthMBps = v
		}
	case "total_wait":
		if read {
			s.ReadTotalWaitMs = v
		} else {
			s.WriteTotalWaitMs = v
		}
	case "disk_wait":
		if read {
			s.ReadDiskWaitMs = v
		} else {
			s.WriteDiskWaitMs = v
		}
	case "syncq_wait":
		if read {
			s.ReadSyncQWaitMs = v
		} else {
			s.WriteSyncQWaitMs = v
		}
	case "asyncq_wait":
		if read {
			s.ReadAsyncQWaitMs = v
		} else {
			s.WriteAsyncQWaitMs = v
		}
	case "scrub_wait":
		s.ScrubWaitMs = v
	case "trim_wait":
		s.TrimWaitMs = v
	}
}
