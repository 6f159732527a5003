// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/exec-core/internal/alerting"
	"github.com/tathienbao/exec-core/internal/execution"
	"github.com/tathienbao/exec-core/internal/gate"
	"github.com/tathienbao/exec-core/internal/stops"
	"github.com/tathienbao/exec-core/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Fill     FillConfig     `yaml:"fill"`
	Stops    StopsConfig    `yaml:"stops"`
	Live     LiveConfig     `yaml:"live"`
	Gate     GateConfig     `yaml:"gate"`
	Alerting AlertingConfig `yaml:"alerting"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// EngineConfig holds core engine settings.
type EngineConfig struct {
	Backend       string `yaml:"backend"` // paper | live
	EventRingSize int    `yaml:"event_ring_size"`
}

// FillConfig holds paper fill simulation settings.
type FillConfig struct {
	SlippageBps         float64 `yaml:"slippage_bps"`
	SpreadBps           float64 `yaml:"spread_bps"`
	PartialFillEnabled  bool    `yaml:"partial_fill_enabled"`
	PartialFillProb     float64 `yaml:"partial_fill_prob"`
	PartialFillMinRatio float64 `yaml:"partial_fill_min_ratio"`
	Deterministic       bool    `yaml:"deterministic"`
	Seed                int64   `yaml:"seed"`
}

// StopsConfig holds stop engine settings.
type StopsConfig struct {
	PartialExitEnabled  bool    `yaml:"partial_exit_enabled"`
	PartialExitFraction float64 `yaml:"partial_exit_fraction"`
	TrailStepR          float64 `yaml:"trail_step_r"`
	TrailingActivation  string  `yaml:"trailing_activation"` // after_partial | immediate
	TimeStopBars        int     `yaml:"time_stop_bars"`
}

// LiveConfig holds live backend settings.
type LiveConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	RetryDelayMs   int     `yaml:"retry_delay_ms"`
	RetryBackoff   float64 `yaml:"retry_backoff"`
	CallTimeoutMs  int     `yaml:"call_timeout_ms"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	CallsPerSecond int     `yaml:"calls_per_second"`
}

// GateConfig holds safety gate limits for the live backend.
type GateConfig struct {
	Enabled        bool     `yaml:"enabled"`
	InitialEquity  float64  `yaml:"initial_equity"`
	MaxDrawdownPct float64  `yaml:"max_drawdown_pct"`
	MaxOrderQty    float64  `yaml:"max_order_qty"`
	MaxOpenOrders  int      `yaml:"max_open_orders"`
	BlockedSymbols []string `yaml:"blocked_symbols"`
}

// AlertingConfig holds alert channel settings.
type AlertingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MinSeverity string `yaml:"min_severity"` // info | warning | high | critical
	Telegram    struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// JournalConfig holds journal settings.
type JournalConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Path                string `yaml:"path"`
	SnapshotIntervalSec int    `yaml:"snapshot_interval_sec"`
}

// MetricsConfig holds metrics server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load loads configuration from a YAML file, expanding environment
// variables first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration, accumulating every problem into
// one error.
func (c *Config) Validate() error {
	var errs []string

	switch c.Engine.Backend {
	case "", "paper", "live":
	default:
		errs = append(errs, fmt.Sprintf("engine.backend '%s' must be 'paper' or 'live'", c.Engine.Backend))
	}

	if c.Fill.SlippageBps < 0 {
		errs = append(errs, "fill.slippage_bps must be >= 0")
	}
	if c.Fill.PartialFillEnabled {
		if c.Fill.PartialFillProb < 0 || c.Fill.PartialFillProb > 1 {
			errs = append(errs, "fill.partial_fill_prob must be between 0 and 1")
		}
		if c.Fill.PartialFillMinRatio <= 0 || c.Fill.PartialFillMinRatio >= 1 {
			errs = append(errs, "fill.partial_fill_min_ratio must be between 0 and 1 exclusive")
		}
	}

	if c.Stops.PartialExitEnabled {
		if c.Stops.PartialExitFraction <= 0 || c.Stops.PartialExitFraction >= 1 {
			errs = append(errs, "stops.partial_exit_fraction must be between 0 and 1 exclusive")
		}
	}
	if c.Stops.TrailStepR < 0 {
		errs = append(errs, "stops.trail_step_r must be >= 0")
	}
	switch c.Stops.TrailingActivation {
	case "", string(stops.ActivateAfterPartial), string(stops.ActivateImmediate):
	default:
		errs = append(errs, fmt.Sprintf("stops.trailing_activation '%s' must be 'after_partial' or 'immediate'", c.Stops.TrailingActivation))
	}
	if c.Stops.TimeStopBars < 0 {
		errs = append(errs, "stops.time_stop_bars must be >= 0")
	}

	if c.Live.MaxAttempts < 0 {
		errs = append(errs, "live.max_attempts must be >= 0")
	}

	if c.Gate.Enabled {
		if c.Gate.MaxDrawdownPct < 0 || c.Gate.MaxDrawdownPct >= 1 {
			errs = append(errs, "gate.max_drawdown_pct must be in [0, 1)")
		}
		if c.Gate.MaxDrawdownPct > 0 && c.Gate.InitialEquity <= 0 {
			errs = append(errs, "gate.initial_equity is required with a drawdown limit")
		}
	}

	switch c.Alerting.MinSeverity {
	case "", "info", "warning", "high", "critical":
	default:
		errs = append(errs, fmt.Sprintf("alerting.min_severity '%s' must be info, warning, high or critical", c.Alerting.MinSeverity))
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// ToFillConfig converts to execution.FillConfig.
func (c *Config) ToFillConfig() execution.FillConfig {
	return execution.FillConfig{
		SlippageBps:         decimal.NewFromFloat(c.Fill.SlippageBps),
		SpreadBps:           decimal.NewFromFloat(c.Fill.SpreadBps),
		PartialFillEnabled:  c.Fill.PartialFillEnabled,
		PartialFillProb:     c.Fill.PartialFillProb,
		PartialFillMinRatio: c.Fill.PartialFillMinRatio,
		Deterministic:       c.Fill.Deterministic,
		Seed:                c.Fill.Seed,
	}
}

// ToStopsConfig converts to stops.Config.
func (c *Config) ToStopsConfig() stops.Config {
	cfg := stops.DefaultConfig()
	cfg.PartialExitEnabled = c.Stops.PartialExitEnabled
	if c.Stops.PartialExitFraction > 0 {
		cfg.PartialExitFraction = decimal.NewFromFloat(c.Stops.PartialExitFraction)
	}
	if c.Stops.TrailStepR > 0 {
		cfg.TrailStepR = decimal.NewFromFloat(c.Stops.TrailStepR)
	}
	if c.Stops.TrailingActivation != "" {
		cfg.Activation = stops.ActivationMode(c.Stops.TrailingActivation)
	}
	cfg.TimeStopBars = c.Stops.TimeStopBars
	return cfg
}

// ToLiveConfig converts to execution.LiveConfig.
func (c *Config) ToLiveConfig() execution.LiveConfig {
	cfg := execution.DefaultLiveConfig()
	if c.Live.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Live.MaxAttempts
	}
	if c.Live.RetryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(c.Live.RetryDelayMs) * time.Millisecond
	}
	if c.Live.RetryBackoff > 0 {
		cfg.RetryBackoff = c.Live.RetryBackoff
	}
	if c.Live.CallTimeoutMs > 0 {
		cfg.CallTimeout = time.Duration(c.Live.CallTimeoutMs) * time.Millisecond
	}
	if c.Live.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(c.Live.PollIntervalMs) * time.Millisecond
	}
	if c.Live.CallsPerSecond > 0 {
		cfg.CallsPerSecond = c.Live.CallsPerSecond
	}
	return cfg
}

// ToGateConfig converts to gate.Config.
func (c *Config) ToGateConfig() gate.Config {
	cfg := gate.DefaultConfig()
	if c.Gate.InitialEquity > 0 {
		cfg.InitialEquity = decimal.NewFromFloat(c.Gate.InitialEquity)
	}
	if c.Gate.MaxDrawdownPct > 0 {
		cfg.MaxDrawdownPct = decimal.NewFromFloat(c.Gate.MaxDrawdownPct)
	}
	if c.Gate.MaxOrderQty > 0 {
		cfg.MaxOrderQty = decimal.NewFromFloat(c.Gate.MaxOrderQty)
	}
	if c.Gate.MaxOpenOrders > 0 {
		cfg.MaxOpenOrders = c.Gate.MaxOpenOrders
	}
	cfg.BlockedSymbols = c.Gate.BlockedSymbols
	return cfg
}

// MinSeverity returns the configured alert threshold.
func (c *Config) MinSeverity() alerting.Severity {
	switch c.Alerting.MinSeverity {
	case "critical":
		return alerting.SeverityCritical
	case "high":
		return alerting.SeverityHigh
	case "info":
		return alerting.SeverityInfo
	default:
		return alerting.SeverityWarning
	}
}

// SnapshotInterval returns the journal snapshot interval.
func (c *Config) SnapshotInterval() time.Duration {
	if c.Journal.SnapshotIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(c.Journal.SnapshotIntervalSec) * time.Second
}

// Backend returns the configured backend name, defaulting to paper.
func (c *Config) Backend() string {
	if c.Engine.Backend == "" {
		return "paper"
	}
	return c.Engine.Backend
}
