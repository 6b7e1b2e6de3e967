package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nickf1227/tn-bench/pkg/analyze"
	"github.com/nickf1227/tn-bench/pkg/config"
	"github.com/nickf1227/tn-bench/pkg/telemetry"
)

func main() {
	// Dispatch subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "collect":
			runCollectCmd(os.Args[2:])
			return
		case "analyze":
			runAnalyzeCmd(os.Args[2:])
			return
		case "scaling":
			runScalingCmd(os.Args[2:])
			return
		}
	}

	// Default behavior (flags -> collect)
	runCollectCmd(os.Args[1:])
}

// Flags holds pointers to all supported CLI flags
type Flags struct {
	// Config File (optional)
	ConfigFile *string

	// Flag-based overrides
	Pool     *string
	Interval *time.Duration
	Warmup   *int
	Cooldown *int
	NoArc    *bool

	// Reporting
	ReportFile *string
}

func SetupFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	f.ConfigFile = fs.String("config", "", "Path to configuration file (disables other flags)")

	f.Pool = fs.String("pool", "", "Pool to collect telemetry from")
	f.Interval = fs.Duration("interval", 1*time.Second, "Polling interval")
	f.Warmup = fs.Int("warmup", 3, "Warmup samples to capture before the first segment")
	f.Cooldown = fs.Int("cooldown", 3, "Cooldown samples to capture after the last segment")
	f.NoArc = fs.Bool("no-arc", false, "Skip ARC cache telemetry")

	f.ReportFile = fs.String("report", "", "Write results to JSON file (default stdout)")
	return f
}

// LoadConfig determines the config source (file or flags) and returns a Config object.
func (f *Flags) LoadConfig() (*config.Config, error) {
	if *f.ConfigFile != "" {
		cfg, err := config.Load(*f.ConfigFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config file")
		}
		return cfg, nil
	}

	if *f.Pool == "" {
		return nil, errors.New("-pool is required when using flags")
	}

	cfg := config.Default()
	cfg.Pool = *f.Pool
	cfg.Interval = *f.Interval
	cfg.WarmupSamples = *f.Warmup
	cfg.CooldownSamples = *f.Cooldown
	cfg.ReportFile = *f.ReportFile
	return cfg, nil
}

// Report bundles one collection session's raw telemetry with its
// derived analysis.
type Report struct {
	PoolTelemetry *telemetry.PoolTelemetry  `json:"pool_telemetry"`
	ArcTelemetry  *telemetry.ArcTelemetry   `json:"arc_telemetry,omitempty"`
	Summary       analyze.RunSummary        `json:"summary"`
	ArcSegments   []analyze.ArcSegmentStats `json:"arc_segments,omitempty"`
}

// runCollectCmd handles "tnbench collect [flags]". Segment labels are
// read from stdin, one per line, as the external workload driver moves
// through its configurations; EOF ends the session.
func runCollectCmd(args []string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	f := SetupFlags(fs)
	fs.Parse(args)

	if *f.ConfigFile == "" && *f.Pool == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := f.LoadConfig()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger()
	defer log.Sync()

	pool := telemetry.NewPoolCollector(telemetry.PoolCollectorOptions{
		Pool:           cfg.Pool,
		Interval:       cfg.Interval,
		MaxRestarts:    cfg.MaxRestarts,
		IdleEpsilonOps: cfg.IdleEpsilonOps,
		Logger:         log,
	})
	if err := pool.Start(cfg.WarmupSamples); err != nil {
		fmt.Printf("Error: cannot start pool telemetry: %v\n", err)
		os.Exit(1)
	}

	// ARC telemetry is best-effort: the pool run proceeds without it.
	var arc *telemetry.ArcCollector
	if !*f.NoArc {
		arc = telemetry.NewArcCollector(telemetry.ArcCollectorOptions{
			Pool:        cfg.Pool,
			HasL2ARC:    telemetry.DetectL2ARC(cfg.Pool),
			Interval:    cfg.Interval,
			MaxRestarts: cfg.MaxRestarts,
			Logger:      log,
		})
		if err := arc.Start(cfg.WarmupSamples); err != nil {
			log.Warn("proceeding without ARC telemetry", zap.Error(err))
			arc = nil
		}
	}

	// Periodic progress view off the live histogram; the sample buffer
	// itself is never touched until Stop.
	progressDone := make(chan struct{})
	go func() {
		tick := time.NewTicker(10 * cfg.Interval)
		defer tick.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-tick.C:
				log.Info("collection progress",
					zap.Int("samples", pool.SampleCount()),
					zap.Float64("live_iops_p50", pool.LiveIOPS(50)),
					zap.Float64("live_iops_p99", pool.LiveIOPS(99)))
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		label := strings.TrimSpace(scanner.Text())
		if label == "" {
			continue
		}
		pool.Segment(label)
		if arc != nil {
			arc.Segment(label)
		}
	}
	close(progressDone)

	report := Report{PoolTelemetry: pool.Stop(cfg.CooldownSamples)}
	if arc != nil {
		report.ArcTelemetry = arc.Stop(cfg.CooldownSamples)
		report.ArcSegments = analyze.SummarizeArcSegments(report.ArcTelemetry)
	}
	report.Summary = analyze.SummarizeRun(report.PoolTelemetry, cfg.Anomaly.ZThreshold)

	writeJSON(cfg.ReportFile, report)
}

// runAnalyzeCmd handles "tnbench analyze [flags]": recompute the derived
// analysis from a previously captured telemetry file.
func runAnalyzeCmd(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	in := fs.String("in", "", "Telemetry JSON file from a collect run")
	report := fs.String("report", "", "Write results to JSON file (default stdout)")
	zThreshold := fs.Float64("z", 3.0, "Anomaly z-score threshold")
	fs.Parse(args)

	if *in == "" {
		fs.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Accept either a full collect report or bare pool telemetry.
	var telem *telemetry.PoolTelemetry
	var wrapped Report
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.PoolTelemetry != nil {
		telem = wrapped.PoolTelemetry
	} else {
		telem = &telemetry.PoolTelemetry{}
		if err := json.Unmarshal(data, telem); err != nil {
			fmt.Printf("Error: %q is not a telemetry file: %v\n", *in, err)
			os.Exit(1)
		}
	}

	writeJSON(*report, analyze.SummarizeRun(telem, *zThreshold))
}

// runScalingCmd handles "tnbench scaling [flags]": analyze a thread
// sweep's per-configuration average speeds.
func runScalingCmd(args []string) {
	fs := flag.NewFlagSet("scaling", flag.ExitOnError)
	in := fs.String("in", "", "JSON file with [{threads, write_speed_mbps, read_speed_mbps}, ...]")
	report := fs.String("report", "", "Write results to JSON file (default stdout)")
	minGain := fs.Float64("min-gain", 5, "Percent gain floor below which returns are diminishing")
	largeGain := fs.Float64("large-gain", 25, "Earlier-gain percent that makes a small later gain notable")
	fs.Parse(args)

	if *in == "" {
		fs.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	var points []analyze.ScalingPoint
	if err := json.Unmarshal(data, &points); err != nil {
		fmt.Printf("Error: %q is not a scaling points file: %v\n", *in, err)
		os.Exit(1)
	}

	cfg := analyze.ScalingConfig{MinGainPct: *minGain, LargeGainPct: *largeGain}
	writeJSON(*report, analyze.AnalyzeScaling(points, cfg))
}

func writeJSON(path string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Failed to marshal report: %v\n", err)
		return
	}
	if path == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Printf("Failed to write report: %v\n", err)
		return
	}
	fmt.Printf("Report written to %s\n", path)
}

func newLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
