// derivmm is an automated market maker for Bybit/Binance-style perpetual
// futures. It quotes a geometric bid/ask ladder per configured symbol,
// skewed by inventory and a composite order-flow/volatility signal, and
// halts quoting portfolio-wide when a guardrail limit trips.
//
// Architecture:
//
//	cmd/maker/main.go          — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine            — orchestrator: wires venue feeds to per-symbol makers, guardrail, dashboard
//	internal/maker             — per-symbol event loop: book, feature engine, quote generator
//	internal/features          — 1Hz microstructure feature aggregator (imbalance, OFI, VOI, skew)
//	internal/quote             — the geometric quote grid and its refresh/rate-budget logic
//	internal/book              — local order book mirror and its analytics
//	internal/venueio           — the venue collaborator contract plus REST and WebSocket adapters
//	internal/guardrail         — portfolio-wide exposure/volatility kill switch
//	internal/store             — JSON file persistence for quote-generator state
//	internal/dashboard         — read-only HTTP/WebSocket view of engine state
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"derivmm/internal/config"
	"derivmm/internal/dashboard"
	"derivmm/internal/engine"
	"derivmm/internal/telemetry"
)

func main() {
	cfgPath := "configs/config.toml"
	if p := os.Getenv("DERIVMM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.Logging)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(cfg.Dashboard, eng, logger)
		go func() {
			if err := dash.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("derivmm started",
		"symbols", len(cfg.Symbols),
		"max_portfolio_exposure_usd", cfg.Guardrail.MaxPortfolioExposureUSD,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if dash != nil {
		if err := dash.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}
