// Package engine is the central orchestrator of the market-making process.
//
// It wires together all subsystems:
//
//  1. One venueio REST client (account-wide, shared rate budgets) and one
//     market-data / private-data WebSocket feed pair (also shared; a single
//     connection subscribes every configured symbol).
//  2. Each configured symbol gets a book.Book, a features.Engine, a
//     quote.Generator and a maker.Maker, wired together at New and run in
//     its own goroutine.
//  3. The engine implements venueio.MarketSink / venueio.PrivateSink and
//     routes each inbound frame to the correct symbol's Maker by the
//     frame's Symbol field.
//  4. A single guardrail.Guardrail watches every symbol's position reports
//     and can halt quoting across the whole portfolio.
//  5. An optional dashboard broadcasts feature/quote/fill/kill events.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"derivmm/internal/book"
	"derivmm/internal/config"
	"derivmm/internal/dashboard"
	"derivmm/internal/features"
	"derivmm/internal/guardrail"
	"derivmm/internal/maker"
	"derivmm/internal/quote"
	"derivmm/internal/store"
	"derivmm/internal/venueio"
	"derivmm/internal/venueio/rest"
	"derivmm/internal/venueio/wsfeed"
)

// symbolSlot is one configured, always-running symbol. Unlike a dynamically
// discovered market, the slot set is fixed at New and never changes for the
// life of the process.
type symbolSlot struct {
	cfg   config.SymbolConfig
	maker *maker.Maker

	marketEvents chan maker.MarketEvent
	trades       chan maker.TradeEvent
	executions   chan quote.Execution
}

// Engine orchestrates every configured symbol plus the shared venue
// connections, guardrail, and dashboard.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	rest    *rest.Client
	mktFeed *wsfeed.Feed
	usrFeed *wsfeed.Feed
	guard   *guardrail.Guardrail
	store   *store.Store

	// slots is built once in New and never mutated afterwards, so it is
	// safe to read concurrently from the feed dispatch goroutines without
	// a lock.
	slots map[string]*symbolSlot

	dashboardEvents chan dashboard.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every subsystem for the given config. It does not start any
// goroutine; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	restClient := rest.New(rest.Config{
		BaseURL:   cfg.Venue.RESTBaseURL,
		APIKey:    cfg.Venue.APIKey,
		APISecret: cfg.Venue.APISecret,
		DryRun:    cfg.DryRun,
	}, logger)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	guard := guardrail.New(cfg.Guardrail, logger)

	var dashEvents chan dashboard.Event
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan dashboard.Event, 256)
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:             cfg,
		logger:          logger,
		rest:            restClient,
		guard:           guard,
		store:           st,
		slots:           make(map[string]*symbolSlot, len(cfg.Symbols)),
		dashboardEvents: dashEvents,
		ctx:             ctx,
		cancel:          cancel,
	}

	e.mktFeed = wsfeed.NewMarketFeed(cfg.Venue.WSMarketURL, e, logger)
	if cfg.Venue.WSPrivateURL != "" {
		e.usrFeed = wsfeed.NewPrivateFeed(cfg.Venue.WSPrivateURL, e.privateAuthPayload, e, logger)
	}

	quoteVenue := rest.NewQuoteVenue(restClient)

	for _, sc := range cfg.Symbols {
		if err := e.buildSlot(ctx, sc, quoteVenue); err != nil {
			return nil, fmt.Errorf("build slot for %s: %w", sc.Symbol, err)
		}
	}

	return e, nil
}

func (e *Engine) privateAuthPayload() map[string]any {
	headers := rest.NewSigner(e.cfg.Venue.APIKey, e.cfg.Venue.APISecret).Sign("")
	return map[string]any{
		"apiKey":    headers["X-API-KEY"],
		"timestamp": headers["X-TIMESTAMP"],
		"signature": headers["X-SIGNATURE"],
	}
}

func (e *Engine) buildSlot(ctx context.Context, sc config.SymbolConfig, venue quote.Venue) error {
	info, err := e.rest.GetSymbolInfo(ctx, sc.Symbol)
	if err != nil {
		return fmt.Errorf("fetch symbol info: %w", err)
	}

	if err := e.rest.SetLeverage(ctx, sc.Symbol, sc.Leverage); err != nil {
		e.logger.Warn("set leverage failed, continuing with venue default", "symbol", sc.Symbol, "error", err)
	}

	params := book.Params{
		TickSize:    info.TickSize,
		LotSize:     info.LotSize,
		MinNotional: info.MinNotional,
		MinQty:      info.MinQty,
		PostOnlyMax: info.PostOnlyMax,
	}

	qcfg := quote.DefaultConfig(sc.Symbol)
	qcfg.Asset = sc.Balance
	qcfg.Leverage = sc.Leverage
	qcfg.TotalOrders = sc.OrdersPerSide
	qcfg.RateLimit = sc.RateLimit
	qcfg.TickWindowSeconds = sc.TickWindowSeconds
	qcfg.MinimumSpreadBps = sc.MinimumSpreadBps
	qcfg.TickSize = info.TickSize
	qcfg.LotSize = info.LotSize
	qcfg.MinNotional = info.MinNotional
	qcfg.PostOnlyMax = info.PostOnlyMax

	gen := quote.NewGenerator(qcfg, venue)

	if saved, err := e.store.LoadState(sc.Symbol); err != nil {
		e.logger.Error("load persisted state", "symbol", sc.Symbol, "error", err)
	} else if saved != nil {
		gen.Restore(*saved)
		e.logger.Info("restored persisted state", "symbol", sc.Symbol, "position_qty", saved.PositionQty)
	}

	featEngine := features.NewEngine(e.cfg.Features.VolatilityWindow, e.cfg.Features.ROCWindow, e.cfg.Features.MPBWindow)

	m := maker.New(sc.Symbol, params, featEngine, gen, e.cfg.Features.Depths, e.guard, e.dashboardEvents, e.logger)

	e.slots[sc.Symbol] = &symbolSlot{
		cfg:          sc,
		maker:        m,
		marketEvents: make(chan maker.MarketEvent, 256),
		trades:       make(chan maker.TradeEvent, 256),
		executions:   make(chan quote.Execution, 64),
	}
	return nil
}

// Start launches the guardrail, both feeds, the dashboard (if enabled), and
// every symbol's Maker goroutine.
func (e *Engine) Start() error {
	symbols := make([]string, 0, len(e.slots))
	for s := range e.slots {
		symbols = append(symbols, s)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.guard.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed stopped", "error", err)
		}
	}()
	if err := e.mktFeed.Subscribe(symbols); err != nil {
		e.logger.Debug("initial market subscribe deferred until connected", "error", err)
	}

	if e.usrFeed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.usrFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("private feed stopped", "error", err)
			}
		}()
		if err := e.usrFeed.Subscribe(symbols); err != nil {
			e.logger.Debug("initial private subscribe deferred until connected", "error", err)
		}
	}

	for symbol, slot := range e.slots {
		slot := slot
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			slot.maker.Run(e.ctx, slot.marketEvents, slot.trades, slot.executions)
		}()
		e.logger.Info("symbol started", "symbol", symbol, "balance", slot.cfg.Balance, "leverage", slot.cfg.Leverage)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watchKillSignals()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.persistPeriodically()
	}()

	return nil
}

// watchKillSignals logs every guardrail kill signal. Makers already read the
// guardrail's kill-switch state directly each tick; this goroutine exists
// for visibility and to fan the event out to the dashboard.
func (e *Engine) watchKillSignals() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case kill := <-e.guard.KillCh():
			e.logger.Error("KILL SIGNAL received", "symbol", kill.Symbol, "reason", kill.Reason)
			e.emitDashboardEvent(dashboard.Event{
				Type:      "kill",
				Timestamp: time.Now(),
				Symbol:    kill.Symbol,
				Data:      dashboard.KillEvent{Reason: kill.Reason, Until: e.guard.Snapshot().KillSwitchUntil},
			})
		}
	}
}

// persistPeriodically saves every symbol's quote-generator state every 30
// seconds, so a restart resumes close to where it left off.
func (e *Engine) persistPeriodically() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.persistAll()
		}
	}
}

func (e *Engine) persistAll() {
	for symbol, slot := range e.slots {
		if err := e.store.SaveState(symbol, slot.maker.QuoteState()); err != nil {
			e.logger.Error("persist state", "symbol", symbol, "error", err)
		}
	}
}

// Stop cancels every goroutine, cancels all resting orders on the venue as a
// safety net, persists final state, and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()

	for symbol := range e.slots {
		cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := e.rest.CancelAllOrders(cancelCtx, symbol); err != nil {
			e.logger.Error("failed to cancel all orders on shutdown", "symbol", symbol, "error", err)
		}
		cancelCancel()
	}

	e.wg.Wait()

	e.persistAll()

	e.mktFeed.Close()
	if e.usrFeed != nil {
		e.usrFeed.Close()
	}
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// OnMarketFrame implements venueio.MarketSink, routing book frames to the
// correct symbol's Maker.
func (e *Engine) OnMarketFrame(f venueio.MarketFrame) {
	slot, ok := e.slots[f.Symbol]
	if !ok {
		return
	}

	var kind maker.EventKind
	switch f.Kind {
	case venueio.FrameSnapshot:
		kind = maker.Snapshot
	case venueio.FrameDepthDelta:
		kind = maker.DepthDelta
	default:
		kind = maker.TopDelta
	}

	ev := maker.MarketEvent{
		Timestamp:   f.Timestamp,
		Kind:        kind,
		Sequence:    f.Sequence,
		DepthLevels: f.DepthLevels,
		Bids:        f.Bids,
		Asks:        f.Asks,
	}
	select {
	case slot.marketEvents <- ev:
	default:
		e.logger.Warn("market event channel full, dropping frame", "symbol", f.Symbol)
	}
}

// OnTradeFrame implements venueio.MarketSink, routing public trade prints.
func (e *Engine) OnTradeFrame(f venueio.TradeFrame) {
	slot, ok := e.slots[f.Symbol]
	if !ok {
		return
	}
	ev := maker.TradeEvent{Timestamp: f.Timestamp, Price: f.Price, Qty: f.Qty, IsBuy: f.IsBuy}
	select {
	case slot.trades <- ev:
	default:
		e.logger.Warn("trade channel full, dropping frame", "symbol", f.Symbol)
	}
}

// OnExecutionFrame implements venueio.PrivateSink, routing fills.
func (e *Engine) OnExecutionFrame(f venueio.ExecutionFrame) {
	slot, ok := e.slots[f.Symbol]
	if !ok {
		return
	}
	ex := quote.Execution{OrderID: f.OrderID, IsBuy: f.IsBuy, ExecQty: f.ExecQty, Price: f.Price}
	select {
	case slot.executions <- ex:
	default:
		e.logger.Warn("execution channel full, dropping frame", "symbol", f.Symbol)
	}
}

func (e *Engine) emitDashboardEvent(evt dashboard.Event) {
	if e.dashboardEvents == nil {
		return
	}
	select {
	case e.dashboardEvents <- evt:
	default:
	}
}

// DashboardEvents returns the event channel the dashboard server consumes
// (nil if the dashboard is disabled).
func (e *Engine) DashboardEvents() <-chan dashboard.Event {
	return e.dashboardEvents
}

// SymbolStatuses implements dashboard.Provider.
func (e *Engine) SymbolStatuses() []dashboard.SymbolStatus {
	out := make([]dashboard.SymbolStatus, 0, len(e.slots))
	for symbol, slot := range e.slots {
		bk := slot.maker.Book()
		snap := slot.maker.LastSnapshot()
		state := slot.maker.QuoteState()

		buys := make([]dashboard.OrderSide, len(state.LiveBuys))
		for i, o := range state.LiveBuys {
			buys[i] = dashboard.OrderSide{OrderID: o.OrderID, Price: o.Price, Qty: o.Qty}
		}
		sells := make([]dashboard.OrderSide, len(state.LiveSells))
		for i, o := range state.LiveSells {
			sells[i] = dashboard.OrderSide{OrderID: o.OrderID, Price: o.Price, Qty: o.Qty}
		}

		out = append(out, dashboard.SymbolStatus{
			Symbol:   symbol,
			BestBid:  bk.BestBid().Price,
			BestAsk:  bk.BestAsk().Price,
			MidPrice: bk.MidPrice(),
			Features: dashboard.FeatureSnapshotEvent{
				BBAImbalance:   snap.BBAImbalance,
				VOI:            snap.VOI,
				OFI:            snap.OFI,
				TradeImbalance: snap.TradeImbalance,
				Volatility:     snap.Volatility,
				Skew:           snap.Skew,
				AvgTradePrice:  snap.AvgTradePrice,
			},
			Quotes: dashboard.QuoteGridEvent{
				PositionQty: state.PositionQty,
				LiveBuys:    buys,
				LiveSells:   sells,
			},
		})
	}
	return out
}

// GuardrailSnapshot implements dashboard.Provider.
func (e *Engine) GuardrailSnapshot() guardrail.Snapshot {
	return e.guard.Snapshot()
}
