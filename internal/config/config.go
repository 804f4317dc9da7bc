// Package config defines all configuration for the lake daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via LAKE_* environment variables. Missing keys fall back to
// defaults, so a minimal file only needs base_path and the exchange list.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Exchanges   []ExchangeConfig  `mapstructure:"exchanges"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Bus         BusConfig         `mapstructure:"bus"`
	Transformer TransformerConfig `mapstructure:"transformer"`
	Macro       MacroConfig       `mapstructure:"macro"`
	Compactor   CompactorConfig   `mapstructure:"compactor"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Health      HealthConfig      `mapstructure:"health"`
	Testing     TestingConfig     `mapstructure:"testing"`
}

// GeneralConfig holds the lake root and logging options.
type GeneralConfig struct {
	BasePath  string `mapstructure:"base_path"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "text" or "json"
}

// ExchangeConfig describes one venue to ingest. Name selects the
// adapter; Symbols are venue-native spellings ("BTCUSDT", "BTC/USD").
type ExchangeConfig struct {
	Name    string   `mapstructure:"name"`
	WSSURL  string   `mapstructure:"wss_url"`
	Symbols []string `mapstructure:"symbols"`
}

// CollectorConfig tunes the live WebSocket ingestors.
//
//   - WriteIntervalSec: raw journal rotation window.
//   - ReconnectBackoff / MaxReconnectBackoff: exponential reconnect
//     bounds in seconds. Backoff doubles per consecutive failure and
//     resets after a session survives its first read.
//   - ReconnectJitter: fraction of the current backoff added as uniform
//     random jitter, 0..1.
//   - LatencyWarnP95Ms / LatencyWarnMaxMs: thresholds for the 60 s
//     latency summary to escalate from info to warning.
type CollectorConfig struct {
	WriteIntervalSec    int     `mapstructure:"write_interval_sec"`
	ReconnectBackoff    int     `mapstructure:"reconnect_backoff"`
	MaxReconnectBackoff int     `mapstructure:"max_reconnect_backoff"`
	ReconnectJitter     float64 `mapstructure:"reconnect_jitter"`
	LatencyWarnP95Ms    int64   `mapstructure:"latency_warn_p95_ms"`
	LatencyWarnMaxMs    int64   `mapstructure:"latency_warn_max_ms"`
}

// WriteInterval returns the rotation window as a duration.
func (c CollectorConfig) WriteInterval() time.Duration {
	return time.Duration(c.WriteIntervalSec) * time.Second
}

// InitialBackoff returns the starting reconnect delay.
func (c CollectorConfig) InitialBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoff) * time.Second
}

// MaxBackoff returns the reconnect delay cap.
func (c CollectorConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxReconnectBackoff) * time.Second
}

// BusConfig sets the per-subscriber queue bound for the event bus.
type BusConfig struct {
	MaxQueue int `mapstructure:"max_queue"`
}

// TransformerConfig controls the raw-to-parquet bar aggregator.
type TransformerConfig struct {
	ScheduleMinutes     int    `mapstructure:"schedule_minutes"`
	ResampleIntervalSec int    `mapstructure:"resample_interval_sec"`
	ParquetCompression  string `mapstructure:"parquet_compression"` // snappy, zstd, gzip, none
	MaxConcurrency      int    `mapstructure:"max_concurrency"`
	ValidateAfterRun    bool   `mapstructure:"validate_after_run"`
}

// Schedule returns the time between aggregator runs.
func (t TransformerConfig) Schedule() time.Duration {
	return time.Duration(t.ScheduleMinutes) * time.Minute
}

// MacroConfig controls the scheduled macro/FX minute-bar fetcher.
// APIKey is normally supplied via LAKE_MACRO_API_KEY.
type MacroConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	BaseURL             string   `mapstructure:"base_url"`
	APIKey              string   `mapstructure:"api_key"`
	Keys                []string `mapstructure:"keys"`
	ScheduleMinutes     int      `mapstructure:"schedule_minutes"`
	StartupLookbackDays int      `mapstructure:"startup_lookback_days"`
	RuntimeLookbackDays int      `mapstructure:"runtime_lookback_days"`
	RequestsPerSec      float64  `mapstructure:"requests_per_sec"`
}

// Schedule returns the time between fetch runs.
func (m MacroConfig) Schedule() time.Duration {
	return time.Duration(m.ScheduleMinutes) * time.Minute
}

// CompactorConfig controls day-level parquet compaction. Compaction
// rewrites a finished day's partition files into a single file plus a
// checksum sidecar; it only touches days strictly before today.
type CompactorConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	ScheduleMinutes int  `mapstructure:"schedule_minutes"`
	LookbackDays    int  `mapstructure:"lookback_days"`
}

// Schedule returns the time between compaction sweeps.
func (c CompactorConfig) Schedule() time.Duration {
	return time.Duration(c.ScheduleMinutes) * time.Minute
}

// RetentionConfig controls deletion of old raw journal files. Disabled
// by default: raw data is the source of truth for re-aggregation.
type RetentionConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RetentionDays   int  `mapstructure:"retention_days"`
	ScheduleMinutes int  `mapstructure:"schedule_minutes"`
}

// Schedule returns the time between retention sweeps.
func (r RetentionConfig) Schedule() time.Duration {
	return time.Duration(r.ScheduleMinutes) * time.Minute
}

// HealthConfig controls the periodic health snapshot.
type HealthConfig struct {
	ReportIntervalSec int `mapstructure:"report_interval_sec"`
}

// ReportInterval returns the time between health report writes.
func (h HealthConfig) ReportInterval() time.Duration {
	return time.Duration(h.ReportIntervalSec) * time.Second
}

// TestingConfig shortens warmups and isolates output for soak tests.
// When enabled, base_path is relocated to <base_path>/test at load time
// and the aggregator and fetcher run a forced early cycle.
type TestingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads config from a YAML file with env var overrides.
// Recognised env vars: LAKE_BASE_PATH, LAKE_MACRO_API_KEY, LAKE_LOG_LEVEL,
// LAKE_TESTING.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive / deploy-specific fields from env
	if base := os.Getenv("LAKE_BASE_PATH"); base != "" {
		cfg.General.BasePath = base
	}
	if key := os.Getenv("LAKE_MACRO_API_KEY"); key != "" {
		cfg.Macro.APIKey = key
	}
	if level := os.Getenv("LAKE_LOG_LEVEL"); level != "" {
		cfg.General.LogLevel = level
	}
	if os.Getenv("LAKE_TESTING") == "true" || os.Getenv("LAKE_TESTING") == "1" {
		cfg.Testing.Enabled = true
	}

	if cfg.Testing.Enabled {
		cfg.General.BasePath = filepath.Join(cfg.General.BasePath, "test")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "text")

	v.SetDefault("collector.write_interval_sec", 60)
	v.SetDefault("collector.reconnect_backoff", 10)
	v.SetDefault("collector.max_reconnect_backoff", 300)
	v.SetDefault("collector.reconnect_jitter", 0.5)
	v.SetDefault("collector.latency_warn_p95_ms", 2000)
	v.SetDefault("collector.latency_warn_max_ms", 5000)

	v.SetDefault("bus.max_queue", 1000)

	v.SetDefault("transformer.schedule_minutes", 60)
	v.SetDefault("transformer.resample_interval_sec", 1)
	v.SetDefault("transformer.parquet_compression", "snappy")
	v.SetDefault("transformer.max_concurrency", 4)
	v.SetDefault("transformer.validate_after_run", false)

	v.SetDefault("macro.enabled", false)
	v.SetDefault("macro.schedule_minutes", 15)
	v.SetDefault("macro.startup_lookback_days", 7)
	v.SetDefault("macro.runtime_lookback_days", 1)
	v.SetDefault("macro.requests_per_sec", 2)

	v.SetDefault("compactor.enabled", false)
	v.SetDefault("compactor.schedule_minutes", 1440)
	v.SetDefault("compactor.lookback_days", 3)

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.retention_days", 7)
	v.SetDefault("retention.schedule_minutes", 1440)

	v.SetDefault("health.report_interval_sec", 60)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.General.BasePath == "" {
		return fmt.Errorf("general.base_path is required (set LAKE_BASE_PATH)")
	}
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchanges[%d].name is required", i)
		}
		if ex.WSSURL == "" {
			return fmt.Errorf("exchanges[%d].wss_url is required", i)
		}
		if len(ex.Symbols) == 0 {
			return fmt.Errorf("exchanges[%d].symbols must list at least one symbol", i)
		}
	}
	if c.Collector.WriteIntervalSec <= 0 {
		return fmt.Errorf("collector.write_interval_sec must be > 0")
	}
	if c.Collector.ReconnectBackoff <= 0 {
		return fmt.Errorf("collector.reconnect_backoff must be > 0")
	}
	if c.Collector.MaxReconnectBackoff < c.Collector.ReconnectBackoff {
		return fmt.Errorf("collector.max_reconnect_backoff must be >= collector.reconnect_backoff")
	}
	if c.Collector.ReconnectJitter < 0 || c.Collector.ReconnectJitter > 1 {
		return fmt.Errorf("collector.reconnect_jitter must be in [0, 1]")
	}
	if c.Bus.MaxQueue <= 0 {
		return fmt.Errorf("bus.max_queue must be > 0")
	}
	if c.Transformer.ResampleIntervalSec <= 0 {
		return fmt.Errorf("transformer.resample_interval_sec must be > 0")
	}
	switch c.Transformer.ParquetCompression {
	case "snappy", "zstd", "gzip", "none", "uncompressed":
	default:
		return fmt.Errorf("transformer.parquet_compression must be one of: snappy, zstd, gzip, none")
	}
	if c.Transformer.MaxConcurrency <= 0 {
		return fmt.Errorf("transformer.max_concurrency must be > 0")
	}
	if c.Macro.Enabled {
		if c.Macro.BaseURL == "" {
			return fmt.Errorf("macro.base_url is required when macro.enabled")
		}
		if len(c.Macro.Keys) == 0 {
			return fmt.Errorf("macro.keys must list at least one key when macro.enabled")
		}
		if c.Macro.RequestsPerSec <= 0 {
			return fmt.Errorf("macro.requests_per_sec must be > 0")
		}
	}
	if c.Retention.Enabled && c.Retention.RetentionDays <= 0 {
		return fmt.Errorf("retention.retention_days must be > 0 when retention.enabled")
	}
	if c.Health.ReportIntervalSec <= 0 {
		return fmt.Errorf("health.report_interval_sec must be > 0")
	}
	return nil
}
