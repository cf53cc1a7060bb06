// Package config defines the configuration surface for the kernel's host
// launchers: TradingNode (live) and BacktestEngine, plus the per-strategy
// and LiveRiskEngine sub-surfaces spec §6 names. Loaded from a YAML file
// with KERNEL_* environment variable overrides, the same viper/mapstructure
// idiom the teacher uses for its own Config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tradekernel/pkg/types"
)

// TradingNodeConfig is the live-mode host surface (spec §6).
type TradingNodeConfig struct {
	TraderID      string              `mapstructure:"trader_id"`
	LogLevel      string              `mapstructure:"log_level"`
	CacheDatabase CacheDatabaseConfig `mapstructure:"cache_database"`
	ExecEngine    ExecEngineConfig    `mapstructure:"exec_engine"`
	Timeouts      TimeoutConfig       `mapstructure:"timeouts"`
	DataClients   map[string]ClientConfig `mapstructure:"data_clients"`
	ExecClients   map[string]ClientConfig `mapstructure:"exec_clients"`
}

// CacheDatabaseConfig is the cache_database section. It is parsed but not
// consulted: the Cache is in-memory, and the strategy-state store is chosen
// by StoreConfig.Backend.
type CacheDatabaseConfig struct {
	Type string `mapstructure:"type"` // "in-memory" | "external"
}

// ExecEngineConfig is the exec_engine section. Its fields are parsed but not
// passed to the ExecutionEngine, which has no startup reconciliation pass.
type ExecEngineConfig struct {
	ReconciliationLookbackMins int  `mapstructure:"reconciliation_lookback_mins"`
	AllowCashPositions         bool `mapstructure:"allow_cash_positions"`
}

// TimeoutConfig bounds the shutdown sequence (spec §5's Cancellation) and
// startup connection handshakes.
type TimeoutConfig struct {
	Connection    time.Duration `mapstructure:"connection"`
	Reconciliation time.Duration `mapstructure:"reconciliation"`
	Portfolio     time.Duration `mapstructure:"portfolio"`
	Disconnection time.Duration `mapstructure:"disconnection"`
	PostStop      time.Duration `mapstructure:"post_stop"`
}

// ClientConfig is an opaque per-adapter configuration blob (venue URL,
// credentials reference, rate limits); the kernel never interprets its
// contents beyond handing it to the named adapter's constructor.
type ClientConfig map[string]any

// BacktestEngineConfig is the backtest-mode host surface (spec §6).
type BacktestEngineConfig struct {
	TraderID   string           `mapstructure:"trader_id"`
	ExecEngine ExecEngineConfig `mapstructure:"exec_engine"`
	Venues     []VenueConfig    `mapstructure:"venues"`
}

// VenueConfig describes one simulated venue's account model and behavior
// models for a backtest run.
type VenueConfig struct {
	Name             string                     `mapstructure:"name"`
	OMSType          types.OMSType              `mapstructure:"oms_type"`
	AccountType      types.AccountType          `mapstructure:"account_type"`
	BaseCurrency     string                     `mapstructure:"base_currency"` // "" = multi-asset
	StartingBalances []string                   `mapstructure:"starting_balances"`
	DefaultLeverage  float64                    `mapstructure:"default_leverage"`
	Leverages        map[string]float64         `mapstructure:"leverages"` // instrument -> leverage
	IsFrozenAccount  bool                       `mapstructure:"is_frozen_account"`
	FillModel        FillModelConfig            `mapstructure:"fill_model"`
	LatencyModel     LatencyModelConfig         `mapstructure:"latency_model"`
	Modules          []string                   `mapstructure:"modules"`
}

// FillModelConfig configures the simulated exchange's FillModel. Only
// ProbSlippage affects matching; the fill probabilities are not consulted.
type FillModelConfig struct {
	ProbFillOnLimit float64 `mapstructure:"prob_fill_on_limit"`
	ProbFillOnStop  float64 `mapstructure:"prob_fill_on_stop"`
	ProbSlippage    float64 `mapstructure:"prob_slippage"`
	RandomSeed      int64   `mapstructure:"random_seed"`
}

// LatencyModelConfig tunes the simulated exchange's command-delay queue.
type LatencyModelConfig struct {
	InsertLatencyMs int64 `mapstructure:"insert_latency_ms"`
	UpdateLatencyMs int64 `mapstructure:"update_latency_ms"`
	CancelLatencyMs int64 `mapstructure:"cancel_latency_ms"`
}

// StrategyConfig is the per-strategy configuration surface (spec §6):
// order_id_tag plus arbitrary user-defined fields the strategy itself
// interprets.
type StrategyConfig struct {
	OrderIDTag string         `mapstructure:"order_id_tag"`
	Params     map[string]any `mapstructure:",remain"`
}

// LiveRiskEngineConfig is the RiskEngine's configuration surface (spec §6).
type LiveRiskEngineConfig struct {
	QSize              int                          `mapstructure:"qsize"`
	Bypass             bool                         `mapstructure:"bypass"`
	MaxQuantity        map[string]string            `mapstructure:"max_quantity"` // instrument -> decimal string
	MaxNotional        map[string]string            `mapstructure:"max_notional"`
	PriceBandPct       float64                      `mapstructure:"price_band_pct"`
	MaxOrdersPerWindow int                          `mapstructure:"max_orders_per_window"`
	Window             time.Duration                `mapstructure:"window"`
}

// Config is the top-level file shape: exactly one of TradingNode or
// Backtest is populated, selected by which host binary reads it.
type Config struct {
	TradingNode *TradingNodeConfig   `mapstructure:"trading_node"`
	Backtest    *BacktestEngineConfig `mapstructure:"backtest"`
	Strategies  []StrategyConfig     `mapstructure:"strategies"`
	RiskEngine  LiveRiskEngineConfig `mapstructure:"risk_engine"`
	Store       StoreConfig          `mapstructure:"store"`
	Metrics     MetricsConfig        `mapstructure:"metrics"`
}

// StoreConfig selects the opaque strategy-state persistence backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "json" | "sqlite"
	Path    string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus /metrics HTTP surface.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config from a YAML file with KERNEL_* env var overrides,
// matching the teacher's SetEnvPrefix/AutomaticEnv/EnvKeyReplacer idiom.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("KERNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if addr := os.Getenv("KERNEL_METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	return &cfg, nil
}

// DecodeParams decodes a freeform configuration blob (a StrategyConfig's
// Params or a ClientConfig) into a concrete struct, with the same
// string-to-duration decode hook viper applies to the rest of this file —
// plain mapstructure.Decode would reject a YAML "30s" against a
// time.Duration field.
func DecodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build params decoder: %w", err)
	}
	return decoder.Decode(params)
}

// Validate checks that exactly one run mode is configured and required
// fields are present for it.
func (c *Config) Validate() error {
	if c.TradingNode == nil && c.Backtest == nil {
		return fmt.Errorf("config: exactly one of trading_node or backtest must be set")
	}
	if c.TradingNode != nil && c.Backtest != nil {
		return fmt.Errorf("config: trading_node and backtest are mutually exclusive")
	}
	if c.TradingNode != nil && c.TradingNode.TraderID == "" {
		return fmt.Errorf("config: trading_node.trader_id is required")
	}
	if c.Backtest != nil {
		if c.Backtest.TraderID == "" {
			return fmt.Errorf("config: backtest.trader_id is required")
		}
		if len(c.Backtest.Venues) == 0 {
			return fmt.Errorf("config: backtest.venues must name at least one venue")
		}
		for _, venue := range c.Backtest.Venues {
			switch venue.OMSType {
			case types.OMSTypeNetting, types.OMSTypeHedging:
			default:
				return fmt.Errorf("config: venue %s: oms_type must be NETTING or HEDGING", venue.Name)
			}
			switch venue.AccountType {
			case types.AccountTypeCash, types.AccountTypeMargin, types.AccountTypeBetting:
			default:
				return fmt.Errorf("config: venue %s: account_type must be CASH, MARGIN, or BETTING", venue.Name)
			}
		}
	}
	return nil
}
