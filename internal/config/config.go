package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level slotqueue configuration.
type Config struct {
	Queue    QueueConfig    `yaml:"queue"`
	Fees     FeeConfig      `yaml:"fees"`
	Splits   SplitConfig    `yaml:"splits"`
	Worker   WorkerConfig   `yaml:"worker"`
	API      APIConfig      `yaml:"api"`
	Discount DiscountConfig `yaml:"discount"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// QueueConfig holds the admission-control settings.
type QueueConfig struct {
	// Capacity bounds the number of proposer-funded entries.
	Capacity uint64 `yaml:"capacity"`
	// GracePeriod protects freshly admitted entries from eviction.
	GracePeriod time.Duration `yaml:"grace_period"`
	// MaxTopWait is how long an entry may sit at the top of the queue
	// before anyone may evict it for a cleanup reward.
	MaxTopWait time.Duration `yaml:"max_top_wait"`
	// RequireBond rejects admission without a non-zero bond attached.
	RequireBond bool `yaml:"require_bond"`
	// MaxFee caps the priority fee; prevents composite-score gaming.
	MaxFee uint64 `yaml:"max_fee"`
}

// FeeConfig holds the occupancy-based fee escalation schedule.
type FeeConfig struct {
	BaseFee uint64 `yaml:"base_fee"`
	MaxFee  uint64 `yaml:"max_fee"`
	// LowOccupancyPct is the flat zone ceiling; below it the floor is
	// BaseFee.
	LowOccupancyPct uint64 `yaml:"low_occupancy_pct"`
	// HighOccupancyPct is where the linear ramp ends and the
	// exponential zone begins.
	HighOccupancyPct uint64 `yaml:"high_occupancy_pct"`
	// RampMultiple is the fee multiple reached at HighOccupancyPct.
	RampMultiple uint64 `yaml:"ramp_multiple"`
	// StepPct and StepMultiplierBps drive the exponential zone: every
	// StepPct occupancy points above the high threshold multiplies the
	// floor by (10000+StepMultiplierBps)/10000.
	StepPct           uint64 `yaml:"step_pct"`
	StepMultiplierBps uint64 `yaml:"step_multiplier_bps"`
}

// SplitConfig holds the bond split ratios (basis points) for each
// terminal transition. The remainder always goes to the second party,
// so the two shares sum exactly to the bond.
type SplitConfig struct {
	CancelSubmitterBps   uint64 `yaml:"cancel_submitter_bps"`
	EvictTreasuryBps     uint64 `yaml:"evict_treasury_bps"`
	ActivateSubmitterBps uint64 `yaml:"activate_submitter_bps"`
	// TimeoutCallerBps is the cleanup share taken from the bond by
	// whoever evicts a timed-out top entry; the rest returns to the
	// submitter.
	TimeoutCallerBps uint64 `yaml:"timeout_caller_bps"`
}

// WorkerConfig holds the background sweeper settings.
type WorkerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	AutoActivate  bool          `yaml:"auto_activate"`
	Operator      string        `yaml:"operator"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DiscountConfig holds the external fee-discount registry settings.
type DiscountConfig struct {
	Enabled  bool          `yaml:"enabled"`
	APIURL   string        `yaml:"api_url"`
	APIKey   string        `yaml:"api_key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Capacity:    100,
			GracePeriod: 10 * time.Minute,
			MaxTopWait:  24 * time.Hour,
			RequireBond: true,
			MaxFee:      1_000_000_000_000,
		},
		Fees: FeeConfig{
			BaseFee:           1_000,
			MaxFee:            1_000_000_000_000,
			LowOccupancyPct:   20,
			HighOccupancyPct:  80,
			RampMultiple:      10,
			StepPct:           5,
			StepMultiplierBps: 1500,
		},
		Splits: SplitConfig{
			CancelSubmitterBps:   5000,
			EvictTreasuryBps:     5000,
			ActivateSubmitterBps: 5000,
			TimeoutCallerBps:     500,
		},
		Worker: WorkerConfig{
			SweepInterval: 30 * time.Second,
			AutoActivate:  false,
		},
		API: APIConfig{
			ListenAddr: "0.0.0.0:8580",
		},
		Discount: DiscountConfig{
			Enabled:  false,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "0.0.0.0:6060",
		},
	}
}
