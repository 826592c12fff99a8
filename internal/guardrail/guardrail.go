// Package guardrail enforces portfolio-level risk limits across all
// symbols a single engine instance trades.
//
// The guardrail runs as a standalone goroutine that receives Reports from
// each symbol's Maker and checks them against configured limits:
//
//   - Portfolio exposure: caps total |position_qty * mid| USD across symbols
//   - Symbol volatility:  caps any one symbol's realized volatility
//
// When a limit is breached, the guardrail emits a KillSignal on KillCh().
// The engine logs each signal and forwards it to the dashboard. After a trip,
// the kill switch stays active for CooldownAfterTrip; it is portfolio-wide,
// and while it is active every maker cancels its grid and skips quoting.
package guardrail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"derivmm/internal/config"
)

// Report is sent by each symbol's Maker every feature tick.
type Report struct {
	Symbol      string
	PositionQty float64
	MidPrice    float64
	Volatility  float64
	Timestamp   time.Time
}

// KillSignal reports a trip of the kill switch. Symbol names the symbol whose
// volatility breached its limit and is empty for a portfolio exposure
// breach; both engage the same portfolio-wide switch.
type KillSignal struct {
	Symbol string
	Reason string
}

// Guardrail aggregates per-symbol reports, checks limits, and emits kill
// signals when breached.
type Guardrail struct {
	cfg    config.GuardrailConfig
	logger *slog.Logger

	mu               sync.RWMutex
	exposures        map[string]float64 // |position_qty * mid| per symbol
	totalExposure    float64
	killSwitchActive bool
	killSwitchUntil  time.Time

	reportCh chan Report
	killCh   chan KillSignal
}

// New creates a Guardrail.
func New(cfg config.GuardrailConfig, logger *slog.Logger) *Guardrail {
	return &Guardrail{
		cfg:       cfg,
		logger:    logger.With("component", "guardrail"),
		exposures: make(map[string]float64),
		reportCh:  make(chan Report, 100),
		killCh:    make(chan KillSignal, 10),
	}
}

// Run starts the guardrail's monitoring loop. It blocks until ctx is
// cancelled.
func (g *Guardrail) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-g.reportCh:
			g.processReport(report)
		case <-ticker.C:
			g.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking; drops under backpressure).
func (g *Guardrail) Report(report Report) {
	select {
	case g.reportCh <- report:
	default:
		g.logger.Warn("guardrail report channel full, dropping report", "symbol", report.Symbol)
	}
}

// KillCh returns the channel for reading kill signals.
func (g *Guardrail) KillCh() <-chan KillSignal { return g.killCh }

// RemoveSymbol cleans up state for a symbol the engine stopped trading.
func (g *Guardrail) RemoveSymbol(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.exposures, symbol)

	g.totalExposure = 0
	for _, e := range g.exposures {
		g.totalExposure += e
	}
}

// IsKillSwitchActive returns whether the kill switch is currently engaged,
// clearing it first if the cooldown has elapsed.
func (g *Guardrail) IsKillSwitchActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.killSwitchActive {
		return false
	}
	if time.Now().After(g.killSwitchUntil) {
		g.killSwitchActive = false
		g.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// Snapshot returns aggregate risk metrics for the dashboard.
type Snapshot struct {
	TotalExposure    float64
	MaxExposure      float64
	ExposurePct      float64
	KillSwitchActive bool
	KillSwitchUntil  time.Time
}

// Snapshot returns the current guardrail state.
func (g *Guardrail) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var pct float64
	if g.cfg.MaxPortfolioExposureUSD > 0 {
		pct = (g.totalExposure / g.cfg.MaxPortfolioExposureUSD) * 100
	}
	return Snapshot{
		TotalExposure:    g.totalExposure,
		MaxExposure:      g.cfg.MaxPortfolioExposureUSD,
		ExposurePct:      pct,
		KillSwitchActive: g.killSwitchActive,
		KillSwitchUntil:  g.killSwitchUntil,
	}
}

func (g *Guardrail) processReport(report Report) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.exposures[report.Symbol] = abs(report.PositionQty * report.MidPrice)

	g.totalExposure = 0
	for _, e := range g.exposures {
		g.totalExposure += e
	}

	if g.totalExposure > g.cfg.MaxPortfolioExposureUSD {
		g.emitKill("", "portfolio exposure limit breached")
	}
	if g.cfg.MaxSymbolVolatility > 0 && report.Volatility > g.cfg.MaxSymbolVolatility {
		g.emitKill(report.Symbol, "symbol volatility limit breached")
	}
}

func (g *Guardrail) clearExpiredKillSwitch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killSwitchActive && time.Now().After(g.killSwitchUntil) {
		g.killSwitchActive = false
		g.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal to the engine. A full kill channel is drained first so the
// latest kill reason is always delivered.
func (g *Guardrail) emitKill(symbol, reason string) {
	g.killSwitchActive = true
	g.killSwitchUntil = time.Now().Add(g.cfg.CooldownAfterTrip)

	g.logger.Error("kill switch engaged", "symbol", symbol, "reason", reason, "cooldown_until", g.killSwitchUntil)

	sig := KillSignal{Symbol: symbol, Reason: reason}
	select {
	case g.killCh <- sig:
	default:
		select {
		case <-g.killCh:
		default:
		}
		g.killCh <- sig
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
