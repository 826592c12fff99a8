package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
dry_run = true

[venue]
rest_base_url = "https://api.bybit.com"
ws_market_url = "wss://stream.bybit.com/v5/public/linear"
ws_private_url = "wss://stream.bybit.com/v5/private"

[[symbols]]
symbol = "BTCUSDT"
balance = 1000
leverage = 2
orders_per_side = 5
rate_limit = 10
tick_window_seconds = 30
minimum_spread_bps = 5

[features]
volatility_window = 20
roc_window = 20
mpb_window = 20
depths = [5, 10]

[guardrail]
max_portfolio_exposure_usd = 5000
max_symbol_volatility = 0.05
cooldown_after_trip = "30s"
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoadParsesSymbolsAndFeatures(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.DryRun {
		t.Error("expected dry_run = true")
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0].Symbol != "BTCUSDT" {
		t.Errorf("symbols = %+v", cfg.Symbols)
	}
	if len(cfg.Features.Depths) != 2 {
		t.Errorf("depths = %v, want 2 entries", cfg.Features.Depths)
	}
}

func TestLoadEnvOverridesAPICredentials(t *testing.T) {
	t.Setenv("DERIVMM_API_KEY", "envkey")
	t.Setenv("DERIVMM_API_SECRET", "envsecret")

	cfg, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Venue.APIKey != "envkey" || cfg.Venue.APISecret != "envsecret" {
		t.Errorf("venue credentials = %+v, want env overrides applied", cfg.Venue)
	}
}

func TestValidateRequiresSymbols(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		DryRun: true,
		Venue:  VenueConfig{RESTBaseURL: "https://x", WSMarketURL: "wss://x"},
		Features: FeaturesConfig{Depths: []int{5}},
		Guardrail: GuardrailConfig{MaxPortfolioExposureUSD: 1000},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty symbols")
	}
}

func TestValidateRequiresCredentialsUnlessDryRun(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		DryRun:    false,
		Venue:     VenueConfig{RESTBaseURL: "https://x", WSMarketURL: "wss://x"},
		Symbols:   []SymbolConfig{{Symbol: "BTCUSDT", Balance: 100, Leverage: 1, OrdersPerSide: 1, RateLimit: 1}},
		Features:  FeaturesConfig{Depths: []int{5}},
		Guardrail: GuardrailConfig{MaxPortfolioExposureUSD: 1000},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing credentials when dry_run is false")
	}
}
