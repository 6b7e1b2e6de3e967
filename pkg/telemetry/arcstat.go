package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nickf1227/tn-bench/pkg/units"
)

// arcstat field lists, in output order. The L2ARC pair is requested only
// when the pool actually has a cache vdev; asking for l2 fields on a pool
// without one yields dashes that would pollute every sample.
var (
	arcCoreFields = []string{"hit%", "arcsz", "mrusz%", "mfusz%"}
	arcL2Fields   = []string{"l2hit%", "l2size"}
	arcZfetchEnd  = []string{"zhits", "zmisses"}
)

// ArcCollectorOptions configure an ARC telemetry collector.
type ArcCollectorOptions struct {
	Pool        string
	HasL2ARC    bool
	Interval    time.Duration
	MaxRestarts int
	Logger      *zap.Logger

	// Source overrides the arcstat child process; used by tests.
	Source Source
}

// ArcCollector samples ARC cache telemetry in the background. Same
// lifecycle as PoolCollector; the two run side by side off independent
// child processes.
type ArcCollector struct {
	opts   ArcCollectorOptions
	eng    *engine
	fields []string

	telem   *ArcTelemetry
	started bool

	stopOnce sync.Once
	final    *ArcTelemetry
}

// NewArcCollector builds an ARC collector. The L2ARC decision is made
// here, once: every sample of the run carries the L2 fields or none does.
func NewArcCollector(opts ArcCollectorOptions) *ArcCollector {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	fields := append([]string{}, arcCoreFields...)
	if opts.HasL2ARC {
		fields = append(fields, arcL2Fields...)
	}
	fields = append(fields, arcZfetchEnd...)

	src := opts.Source
	if src == nil {
		// -p emits raw byte counts and plain numbers, no suffixes.
		src = newExecSource([]string{
			"arcstat", "-p",
			"-f", strings.Join(fields, ","),
			intervalSeconds(opts.Interval),
		})
	}

	c := &ArcCollector{opts: opts, fields: fields}
	c.eng = newEngine(src, opts.Interval, opts.MaxRestarts, opts.Logger.With(zap.String("collector", "arcstat")))
	c.eng.ingest = c.ingest
	return c
}

// Start begins background polling. Fails fast with ErrSourceUnavailable
// when arcstat cannot be spawned; pool telemetry proceeds regardless.
func (c *ArcCollector) Start(warmupCount int) error {
	c.telem = &ArcTelemetry{
		RunID:         newRunID(),
		Pool:          c.opts.Pool,
		HasL2ARC:      c.opts.HasL2ARC,
		StartTime:     time.Now(),
		WarmupSamples: warmupCount,
	}
	if err := c.eng.start(warmupCount); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Segment marks a workload segment boundary.
func (c *ArcCollector) Segment(label string) {
	c.eng.segment(label)
}

// Stop finalizes the run after cooldownCount more samples. Idempotent.
func (c *ArcCollector) Stop(cooldownCount int) *ArcTelemetry {
	c.stopOnce.Do(func() {
		if !c.started {
			if c.telem == nil {
				c.telem = &ArcTelemetry{Pool: c.opts.Pool, HasL2ARC: c.opts.HasL2ARC}
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
func (c *ArcCollector) SampleCount() int { return c.eng.sampleCount() }

// CurrentState exposes the lifecycle state.
func (c *ArcCollector) CurrentState() State { return c.eng.currentState() }

// ingest parses one arcstat line. Called with the engine mutex held.
func (c *ArcCollector) ingest(line string, ts time.Time, label string) bool {
	sample, warnings, ok := parseArcLine(line, c.fields, c.opts.HasL2ARC)
	if !ok {
		return false
	}

	sample.Timestamp = ts
	sample.SegmentLabel = label

	for _, w := range warnings {
		c.telem.ParseWarnings = append(c.telem.ParseWarnings, w)
		c.opts.Logger.Warn("arcstat parse warning", zap.String("detail", w))
	}

	c.telem.Samples = append(c.telem.Samples, sample)
	return true
}

// parseArcLine converts one arcstat -p line into a sample. arcstat
// reprints its header periodically; those lines return ok=false. A
// malformed token zeroes that field and records a warning.
func parseArcLine(line string, fields []string, hasL2 bool) (ArcSample, []string, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < len(fields) {
		return ArcSample{}, nil, false
	}
	// Header lines start with a field name, never a number.
	if _, err := strconv.ParseFloat(strings.TrimSuffix(tokens[0], "%"), 64); err != nil {
		return ArcSample{}, nil, false
	}

	var s ArcSample
	var warnings []string
	var zhits, zmisses float64

	read := func(i int) float64 {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("bad %s token %q at column %d", fields[i], tokens[i], i))
			return 0
		}
		return v
	}

	for i, name := range fields {
		switch name {
		case "hit%":
			s.HitPct = read(i)
		case "arcsz":
			s.ArcSizeGiB = units.BytesToGiB(read(i))
		case "mrusz%":
			s.MRUPct = read(i)
		case "mfusz%":
			s.MFUPct = read(i)
		case "l2hit%":
			v := read(i)
			s.L2ARCHitPct = &v
		case "l2size":
			v := units.BytesToGiB(read(i))
			s.L2ARCSizeGiB = &v
		case "zhits":
			zhits = read(i)
		case "zmisses":
			zmisses = read(i)
		}
	}

	// Demand prefetch effectiveness as a ratio of the raw counters; an
	// idle interval with no prefetch traffic reads as 0, not NaN.
	if zhits+zmisses > 0 {
		s.ZfetchHitPct = zhits / (zhits + zmisses) * 100
	}

	if !hasL2 {
		s.L2ARCHitPct = nil
		s.L2ARCSizeGiB = nil
	}
	return s, warnings, true
}
