// Package config defines all configuration for the signal-graph market
// maker. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via SGMM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool                 `mapstructure:"dry_run"`
	Securities []SecurityConfig     `mapstructure:"securities"`
	Exchanges  map[string]Exchange  `mapstructure:"exchanges"`
	Catalog    CatalogConfig        `mapstructure:"catalog"`
	Quoter     QuoterConfig         `mapstructure:"quoter"`
	Risk       RiskConfig           `mapstructure:"risk"`
	Store      StoreConfig          `mapstructure:"store"`
	Logging    LoggingConfig        `mapstructure:"logging"`
}

// SecurityConfig names one (product, exchange) pair to trade. The
// product is the venue-agnostic symbol (e.g. "BTC-USD"); exchange keys
// into the Exchanges map for connection details.
type SecurityConfig struct {
	Product  string `mapstructure:"product"`
	Exchange string `mapstructure:"exchange"`
}

// Exchange holds one venue's connection details. APIKey/APISecret are
// left empty in the YAML file and filled from SGMM_<EXCHANGE>_API_KEY /
// SGMM_<EXCHANGE>_API_SECRET env vars at load time.
type Exchange struct {
	WSURL     string `mapstructure:"ws_url"`
	UserWSURL string `mapstructure:"user_ws_url"`
	RESTURL   string `mapstructure:"rest_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`

	// Kind selects the wire codec in internal/exchangefeed: "bitmex",
	// "coinbase", or "okex".
	Kind string `mapstructure:"kind"`
	// BitmexIDOffset is bitmex-only: the per-symbol constant its book
	// level IDs are computed from (see exchangefeed.BitmexCodec).
	BitmexIDOffset int64 `mapstructure:"bitmex_id_offset"`
	// OkexChannel is okex-only: the subscribe channel string, e.g.
	// "spot/depth_l2_tbt:BTC-USDT".
	OkexChannel string `mapstructure:"okex_channel"`
}

// CatalogConfig tunes the default signal graph layout (see
// internal/catalog.Params): fair-value depth scoring, the size/fast/slow
// EMA ratios, and the minimum combined size the cross-security aggregator
// requires before it trusts a security's leg.
type CatalogConfig struct {
	FairValueDenom      float64 `mapstructure:"fair_value_denom"`
	FairValueOffset     float64 `mapstructure:"fair_value_offset"`
	FairValueDollarsOut float64 `mapstructure:"fair_value_dollars_out"`
	FairValueLevelsOut  int     `mapstructure:"fair_value_levels_out"`
	SizeEmaRatio        float64 `mapstructure:"size_ema_ratio"`
	FastEmaRatio        float64 `mapstructure:"fast_ema_ratio"`
	SlowEmaRatio        float64 `mapstructure:"slow_ema_ratio"`
	AggregatorMinSize   float64 `mapstructure:"aggregator_min_size"`
}

// QuoterConfig tunes the fair-value-relative quoting tactic.
//
//   - SpreadBps: base spread around fair value, in basis points.
//   - OrderSizeUSD: target notional size per order.
//   - RefreshInterval: how often to recompute and reconcile quotes.
//   - StaleBookTimeout: cancel all orders if no book update within this window.
//
// Flow Detection:
//   - FlowWindow: rolling time window for tracking fills.
//   - FlowToxicityThreshold: toxicity score above this triggers spread widening.
//   - FlowCooldownPeriod: stay wide for this duration after toxicity detected.
//   - FlowMaxSpreadMultiplier: maximum spread widening factor.
type QuoterConfig struct {
	SpreadBps        int           `mapstructure:"spread_bps"`
	OrderSizeUSD     float64       `mapstructure:"order_size_usd"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	StaleBookTimeout time.Duration `mapstructure:"stale_book_timeout"`

	FlowWindow              time.Duration `mapstructure:"flow_window"`
	FlowToxicityThreshold   float64       `mapstructure:"flow_toxicity_threshold"`
	FlowCooldownPeriod      time.Duration `mapstructure:"flow_cooldown_period"`
	FlowMaxSpreadMultiplier float64       `mapstructure:"flow_max_spread_multiplier"`
}

// RiskConfig sets hard limits that trigger order cancellation (kill switch).
//
//   - MaxPositionPerSecurity: max USD exposure in any single security.
//   - MaxGlobalExposure: max USD exposure across ALL traded securities combined.
//   - KillSwitchDropPct: if fair value moves this % within the window, kill switch fires.
//   - KillSwitchWindowSec: time window for measuring rapid price movement.
//   - MaxDailyLoss: max combined (realized + unrealized) loss before kill switch.
//   - MaxDivergencePct: if a security's own premium diverges from the
//     cross-security consensus by more than this fraction of fair value,
//     kill switch fires. Zero disables this check.
//   - CooldownAfterKill: how long the kill switch stays engaged after firing.
type RiskConfig struct {
	MaxPositionPerSecurity float64       `mapstructure:"max_position_per_security"`
	MaxGlobalExposure      float64       `mapstructure:"max_global_exposure"`
	KillSwitchDropPct      float64       `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec    int           `mapstructure:"kill_switch_window_sec"`
	MaxDailyLoss           float64       `mapstructure:"max_daily_loss"`
	MaxDivergencePct       float64       `mapstructure:"max_divergence_pct"`
	CooldownAfterKill      time.Duration `mapstructure:"cooldown_after_kill"`
}

// StoreConfig sets where position and PnL data is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SGMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for name, ex := range cfg.Exchanges {
		envName := strings.ToUpper(name)
		if key := os.Getenv("SGMM_" + envName + "_API_KEY"); key != "" {
			ex.APIKey = key
		}
		if secret := os.Getenv("SGMM_" + envName + "_API_SECRET"); secret != "" {
			ex.APISecret = secret
		}
		cfg.Exchanges[name] = ex
	}
	if os.Getenv("SGMM_DRY_RUN") == "true" || os.Getenv("SGMM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Securities) == 0 {
		return fmt.Errorf("securities must list at least one (product, exchange) pair")
	}
	for _, s := range c.Securities {
		if s.Product == "" || s.Exchange == "" {
			return fmt.Errorf("securities entries require both product and exchange")
		}
		if _, ok := c.Exchanges[s.Exchange]; !ok {
			return fmt.Errorf("securities references exchange %q with no exchanges.%s entry", s.Exchange, s.Exchange)
		}
	}
	for name, ex := range c.Exchanges {
		if ex.WSURL == "" {
			return fmt.Errorf("exchanges.%s.ws_url is required", name)
		}
		switch ex.Kind {
		case "bitmex", "coinbase", "okex":
		default:
			return fmt.Errorf("exchanges.%s.kind must be one of bitmex, coinbase, okex (got %q)", name, ex.Kind)
		}
	}
	if c.Catalog.FairValueDenom <= 0 {
		return fmt.Errorf("catalog.fair_value_denom must be > 0")
	}
	if c.Catalog.FairValueDollarsOut <= 0 {
		return fmt.Errorf("catalog.fair_value_dollars_out must be > 0")
	}
	if c.Catalog.FairValueLevelsOut <= 0 {
		return fmt.Errorf("catalog.fair_value_levels_out must be > 0")
	}
	if c.Quoter.OrderSizeUSD <= 0 {
		return fmt.Errorf("quoter.order_size_usd must be > 0")
	}
	if c.Risk.MaxPositionPerSecurity <= 0 {
		return fmt.Errorf("risk.max_position_per_security must be > 0")
	}
	if c.Risk.MaxGlobalExposure <= 0 {
		return fmt.Errorf("risk.max_global_exposure must be > 0")
	}
	return nil
}
