// Package config loads and persists the engine's JSON configuration:
// one aggregate struct, env-var overrides layered on top of the file, and
// every field individually optional so old files keep parsing forward.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// TradingMode gates whether the engine is allowed to route orders at all.
type TradingMode string

const (
	TradingLive   TradingMode = "Live"
	TradingPaused TradingMode = "Paused"
	TradingKilled TradingMode = "Killed"
)

// AccountMode selects whether order routing targets a paper ledger or the
// live exchange account.
type AccountMode string

const (
	AccountDemo AccountMode = "Demo"
	AccountLive AccountMode = "Live"
)

// StrategyParams are the tunable numeric knobs the strategy pipeline and
// triple barrier read from.
type StrategyParams struct {
	SLAtrMultiplier  float64 `json:"sl_atr_multiplier"`
	TP1AtrMultiplier float64 `json:"tp1_atr_multiplier"`
	TP2AtrMultiplier float64 `json:"tp2_atr_multiplier"`
	MinSLPct         float64 `json:"min_sl_pct"`
	MinTP1Pct        float64 `json:"min_tp1_pct"`
	MinTP2Pct        float64 `json:"min_tp2_pct"`
	BasePositionPct  float64 `json:"base_position_pct"`
}

func defaultStrategyParams() StrategyParams {
	return StrategyParams{
		SLAtrMultiplier:  1.5,
		TP1AtrMultiplier: 2.5,
		TP2AtrMultiplier: 4.0,
		MinSLPct:         0.4,
		MinTP1Pct:        0.6,
		MinTP2Pct:        1.0,
		BasePositionPct:  2.0,
	}
}

// Config is the engine's persisted configuration. Every field is
// optional on load: the file is decoded over Default(), so a field it
// omits keeps its documented default, and Normalize additionally replaces
// zero-valued mode, symbol and numeric fields with their defaults.
type Config struct {
	TradingMode    TradingMode `json:"trading_mode"`
	AccountMode    AccountMode `json:"account_mode"`
	Symbols        []string    `json:"symbols"`

	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	MaxDailyLossPct        float64 `json:"max_daily_loss_pct"`
	MaxConsecutiveLosses   int     `json:"max_consecutive_losses"`
	MaxTradesPerDay        int     `json:"max_trades_per_day"`
	MaxDrawdownPct         float64 `json:"max_drawdown_pct"`
	MaxSpreadBps           float64 `json:"max_spread_bps"`
	EntryThreshold         float64 `json:"entry_threshold"`

	EnableHTFGate           bool `json:"enable_htf_gate"`
	EnableScoreMomentum     bool `json:"enable_score_momentum"`
	EnableOFIP              bool `json:"enable_ofip"`
	EnableAdaptiveThreshold bool `json:"enable_adaptive_threshold"`
	EnableCUSUM             bool `json:"enable_cusum"`
	EnableAbsorption        bool `json:"enable_absorption"`
	EnableEntropyValley     bool `json:"enable_entropy_valley"`
	EnableMicroTrail        bool `json:"enable_micro_trail"`
	EnableRedisCache        bool `json:"enable_redis_cache"`
	EnableVaultSecrets      bool `json:"enable_vault_secrets"`
	EnableJournal           bool `json:"enable_journal"`

	StrategyParams StrategyParams `json:"strategy_params"`
}

// Default returns the engine's documented-default configuration: the
// values a loaded file's omitted fields keep, and the values Normalize
// fills in for zero-valued mode, symbol and numeric fields.
func Default() Config {
	return Config{
		TradingMode:             TradingPaused,
		AccountMode:             AccountDemo,
		Symbols:                 []string{"BTCUSDT"},
		MaxConcurrentPositions:  3,
		MaxDailyLossPct:         3.0,
		MaxConsecutiveLosses:    5,
		MaxTradesPerDay:         50,
		MaxDrawdownPct:          10.0,
		MaxSpreadBps:            15.0,
		EntryThreshold:          0.15,
		EnableHTFGate:           true,
		EnableScoreMomentum:     true,
		EnableOFIP:              true,
		EnableAdaptiveThreshold: true,
		EnableCUSUM:             true,
		EnableAbsorption:        true,
		EnableEntropyValley:     true,
		EnableMicroTrail:        true,
		EnableRedisCache:        false,
		EnableVaultSecrets:      false,
		EnableJournal:           false,
		StrategyParams:          defaultStrategyParams(),
	}
}

// Normalize fills zero-valued mode, symbol-list and numeric fields with
// their documented defaults, so a partial or old config file always
// parses into a usable whole. The strategy_params block is replaced as a
// whole when its SL multiplier is zero; boolean flags are left as loaded.
func (c *Config) Normalize() {
	d := Default()

	if c.TradingMode == "" {
		c.TradingMode = d.TradingMode
	}
	if c.AccountMode == "" {
		c.AccountMode = d.AccountMode
	}
	if len(c.Symbols) == 0 {
		c.Symbols = d.Symbols
	}
	if c.MaxConcurrentPositions == 0 {
		c.MaxConcurrentPositions = d.MaxConcurrentPositions
	}
	if c.MaxDailyLossPct == 0 {
		c.MaxDailyLossPct = d.MaxDailyLossPct
	}
	if c.MaxConsecutiveLosses == 0 {
		c.MaxConsecutiveLosses = d.MaxConsecutiveLosses
	}
	if c.MaxTradesPerDay == 0 {
		c.MaxTradesPerDay = d.MaxTradesPerDay
	}
	if c.MaxDrawdownPct == 0 {
		c.MaxDrawdownPct = d.MaxDrawdownPct
	}
	if c.MaxSpreadBps == 0 {
		c.MaxSpreadBps = d.MaxSpreadBps
	}
	if c.EntryThreshold == 0 {
		c.EntryThreshold = d.EntryThreshold
	}
	if c.StrategyParams.SLAtrMultiplier == 0 {
		c.StrategyParams = d.StrategyParams
	}
}

// ApplyStartupSafety forces the boot posture: irrespective of what was
// loaded, the engine always starts Paused and Demo. Only an explicit
// subsequent admin action may flip either mode.
func (c *Config) ApplyStartupSafety() {
	c.TradingMode = TradingPaused
	c.AccountMode = AccountDemo
}

// Load reads path (if present), normalizes missing fields to defaults,
// then layers environment-variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if loaded, err := loadFromFile(path); err == nil {
			cfg = *loaded
			cfg.Normalize()
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnvOverrides layers SPOTCORE_-prefixed environment variables over
// the loaded/default config; the environment always wins.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPOTCORE_SYMBOLS"); v != "" {
		cfg.Symbols = splitCSV(v)
	}
	if v := os.Getenv("SPOTCORE_MAX_CONCURRENT_POSITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentPositions = n
		}
	}
	if v := os.Getenv("SPOTCORE_MAX_DAILY_LOSS_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxDailyLossPct = f
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Save persists cfg to path using atomic tmp+rename: write to a temp file
// in the same directory, fsync, then rename over the destination, so a
// crash mid-save never leaves a torn config file.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming config into place: %w", err)
	}
	return nil
}
