// Package config defines all configuration for the market-making engine.
// Config is loaded from a TOML file (default: configs/config.toml) with
// sensitive fields overridable via DERIVMM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the TOML file
// structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Venue     VenueConfig     `mapstructure:"venue"`
	Symbols   []SymbolConfig  `mapstructure:"symbols"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Guardrail GuardrailConfig `mapstructure:"guardrail"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// VenueConfig holds REST/WS endpoints and the account's API credentials.
// APIKey and APISecret are typically left empty in the file and supplied
// via DERIVMM_API_KEY / DERIVMM_API_SECRET.
type VenueConfig struct {
	RESTBaseURL  string `mapstructure:"rest_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSPrivateURL string `mapstructure:"ws_private_url"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
}

// SymbolConfig tunes the quote generator for a single traded symbol.
//
//   - Balance: USD balance allocated to this symbol (quote.Config.Asset).
//   - Leverage: account leverage multiplier applied to Balance.
//   - OrdersPerSide: ladder depth per side (quote.Config.TotalOrders).
//   - RateLimit: per-second order-placement budget for this symbol.
//   - TickWindowSeconds: staleness window driving the refresh trigger.
//   - MinimumSpreadBps: floor on quoted spread; 0 derives it from volatility.
type SymbolConfig struct {
	Symbol            string  `mapstructure:"symbol"`
	Balance           float64 `mapstructure:"balance"`
	Leverage          float64 `mapstructure:"leverage"`
	OrdersPerSide     int     `mapstructure:"orders_per_side"`
	RateLimit         int     `mapstructure:"rate_limit"`
	TickWindowSeconds float64 `mapstructure:"tick_window_seconds"`
	MinimumSpreadBps  float64 `mapstructure:"minimum_spread_bps"`
}

// FeaturesConfig sizes the per-symbol feature engine's rolling windows and
// the order-book depths its imbalance/OFI/VOI statistics are computed over.
type FeaturesConfig struct {
	VolatilityWindow int   `mapstructure:"volatility_window"`
	ROCWindow        int   `mapstructure:"roc_window"`
	MPBWindow        int   `mapstructure:"mpb_window"`
	Depths           []int `mapstructure:"depths"`
}

// GuardrailConfig sets the portfolio-level limits that trip the kill
// switch, independent of any single symbol's quote generator.
//
//   - MaxPortfolioExposureUSD: sum of |position_qty * mid| across symbols.
//   - MaxSymbolVolatility: per-symbol volatility ceiling before quoting halts.
//   - CooldownAfterTrip: how long the kill switch stays engaged after firing.
type GuardrailConfig struct {
	MaxPortfolioExposureUSD float64       `mapstructure:"max_portfolio_exposure_usd"`
	MaxSymbolVolatility     float64       `mapstructure:"max_symbol_volatility"`
	CooldownAfterTrip       time.Duration `mapstructure:"cooldown_after_trip"`
}

// StoreConfig sets where quote-generator state is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a TOML file with env var overrides.
// Sensitive fields use env vars: DERIVMM_API_KEY, DERIVMM_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DERIVMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("DERIVMM_API_KEY"); key != "" {
		cfg.Venue.APIKey = key
	}
	if secret := os.Getenv("DERIVMM_API_SECRET"); secret != "" {
		cfg.Venue.APISecret = secret
	}
	if os.Getenv("DERIVMM_DRY_RUN") == "true" || os.Getenv("DERIVMM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Venue.RESTBaseURL == "" {
		return fmt.Errorf("venue.rest_base_url is required")
	}
	if c.Venue.WSMarketURL == "" {
		return fmt.Errorf("venue.ws_market_url is required")
	}
	if !c.DryRun && (c.Venue.APIKey == "" || c.Venue.APISecret == "") {
		return fmt.Errorf("venue.api_key and venue.api_secret are required unless dry_run is set")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one entry under symbols is required")
	}
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbols: symbol name is required")
		}
		if s.Balance <= 0 {
			return fmt.Errorf("symbols.%s.balance must be > 0", s.Symbol)
		}
		if s.Leverage <= 0 {
			return fmt.Errorf("symbols.%s.leverage must be > 0", s.Symbol)
		}
		if s.OrdersPerSide <= 0 {
			return fmt.Errorf("symbols.%s.orders_per_side must be > 0", s.Symbol)
		}
		if s.RateLimit <= 0 {
			return fmt.Errorf("symbols.%s.rate_limit must be > 0", s.Symbol)
		}
	}
	if len(c.Features.Depths) == 0 {
		return fmt.Errorf("features.depths must list at least one depth")
	}
	if c.Guardrail.MaxPortfolioExposureUSD <= 0 {
		return fmt.Errorf("guardrail.max_portfolio_exposure_usd must be > 0")
	}
	return nil
}
