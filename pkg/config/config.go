package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration for a telemetry run.
type Config struct {
	Pool     string        `yaml:"pool"`
	Interval time.Duration `yaml:"interval"`

	WarmupSamples   int `yaml:"warmup_samples"`
	CooldownSamples int `yaml:"cooldown_samples"`

	// MaxRestarts bounds automatic respawns of the external stats tool
	// after it dies mid-run. Past the bound the run is marked incomplete.
	MaxRestarts int `yaml:"max_restarts"`

	// IdleEpsilonOps is the ops/s floor below which a sample counts as
	// idle for phase classification.
	IdleEpsilonOps float64 `yaml:"idle_epsilon_ops"`

	Anomaly AnomalySettings `yaml:"anomaly"`
	Scaling ScalingSettings `yaml:"scaling"`

	ReportFile string `yaml:"report_file"`
}

type AnomalySettings struct {
	// ZThreshold is the |z-score| above which a sample is flagged.
	ZThreshold float64 `yaml:"z_threshold"`
}

type ScalingSettings struct {
	// MinGainPct: a positive transition below this percent change counts
	// as diminishing returns when it follows a larger gain.
	MinGainPct float64 `yaml:"min_gain_pct"`
	// LargeGainPct: the earlier-gain floor that makes a later small gain
	// worth calling out.
	LargeGainPct float64 `yaml:"large_gain_pct"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a Config with every setting at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Interval == 0 {
		cfg.Interval = 1 * time.Second
	}
	if cfg.WarmupSamples == 0 {
		cfg.WarmupSamples = 3
	}
	if cfg.CooldownSamples == 0 {
		cfg.CooldownSamples = 3
	}
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = 2
	}
	if cfg.IdleEpsilonOps == 0 {
		cfg.IdleEpsilonOps = 1.0
	}
	if cfg.Anomaly.ZThreshold == 0 {
		cfg.Anomaly.ZThreshold = 3.0
	}
	if cfg.Scaling.MinGainPct == 0 {
		cfg.Scaling.MinGainPct = 5.0
	}
	if cfg.Scaling.LargeGainPct == 0 {
		cfg.Scaling.LargeGainPct = 25.0
	}
}
