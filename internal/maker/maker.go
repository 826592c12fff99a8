// Package maker implements the per-symbol orchestrator: the single-writer
// owner of one symbol's order book and quote-generator state. It applies
// incoming market/trade/execution frames, ticks the feature engine at 1 Hz
// of book time, and drives the quote generator's refresh cycle.
package maker

import (
	"context"
	"log/slog"
	"time"

	"derivmm/internal/book"
	"derivmm/internal/dashboard"
	"derivmm/internal/features"
	"derivmm/internal/guardrail"
	"derivmm/internal/quote"
)

// EventKind tags a MarketEvent's payload shape.
type EventKind int

const (
	// Snapshot replaces the book wholesale.
	Snapshot EventKind = iota
	// TopDelta carries a sequenced top-of-book delta.
	TopDelta
	// DepthDelta carries an unsequenced depth delta.
	DepthDelta
)

// MarketEvent is the venue-neutral frame the orchestrator consumes for book
// maintenance, after venueio normalization.
type MarketEvent struct {
	Timestamp   uint64
	Kind        EventKind
	Sequence    uint64 // meaningful only for TopDelta
	DepthLevels int    // meaningful only for DepthDelta
	Bids, Asks  []book.PriceLevel
}

// TradeEvent is a single public trade print.
type TradeEvent struct {
	Timestamp uint64
	Price     float64
	Qty       float64
	IsBuy     bool
}

// Maker owns one symbol's book, feature engine, and quote generator. It is
// not safe for concurrent use from more than the goroutine running Run —
// that is the point: book and quote state each have exactly one writer.
type Maker struct {
	symbol string
	logger *slog.Logger

	book   *book.Book
	engine *features.Engine
	gen    *quote.Generator

	guard           *guardrail.Guardrail
	dashboardEvents chan<- dashboard.Event

	depths []int

	prevBookSnapshot *book.Book
	tradeWindow      []features.Trade
	prevTradeWindow  []features.Trade
	prevAvgTrade     float64

	// Latest feature snapshot, exposed for the dashboard/guardrail.
	lastSnapshot features.Snapshot
}

// New builds a Maker for symbol with a fresh book built from params, wiring
// the given feature engine and quote generator (already configured by the
// caller), plus the shared
// guardrail and an optional dashboard event sink (nil when the dashboard is
// disabled).
func New(symbol string, params book.Params, engine *features.Engine, gen *quote.Generator, depths []int, guard *guardrail.Guardrail, dashboardEvents chan<- dashboard.Event, logger *slog.Logger) *Maker {
	b := book.New(symbol, params)
	prev := book.New(symbol, params)
	return &Maker{
		symbol:           symbol,
		logger:           logger.With("symbol", symbol),
		book:             b,
		engine:           engine,
		gen:              gen,
		guard:            guard,
		dashboardEvents:  dashboardEvents,
		depths:           depths,
		prevBookSnapshot: prev,
	}
}

// ApplyMarketEvent mutates the owned book according to the event kind. It
// is the book's sole writer.
func (m *Maker) ApplyMarketEvent(ev MarketEvent) {
	switch ev.Kind {
	case Snapshot:
		m.book.Reset(ev.Bids, ev.Asks, ev.Timestamp, ev.Sequence)
	case TopDelta:
		if !m.book.UpdateBBA(ev.Bids, ev.Asks, ev.Timestamp, ev.Sequence) {
			m.logger.Debug("dropped stale top-of-book delta", "timestamp", ev.Timestamp, "sequence", ev.Sequence)
		}
	case DepthDelta:
		if !m.book.Update(ev.Bids, ev.Asks, ev.Timestamp, ev.DepthLevels) {
			m.logger.Debug("dropped stale depth delta", "timestamp", ev.Timestamp)
		}
	}
}

// ApplyTrade appends a trade to the current window; the window is rotated
// into the previous window each time the feature engine ticks.
func (m *Maker) ApplyTrade(tr TradeEvent) {
	m.tradeWindow = append(m.tradeWindow, features.Trade{Price: tr.Price, Qty: tr.Qty, IsBuy: tr.IsBuy})
}

// MaybeTickFeatures runs the 1Hz feature-engine update if due, and returns
// the resulting snapshot and whether a tick occurred.
func (m *Maker) MaybeTickFeatures(nowMs uint64) (features.Snapshot, bool) {
	if !m.engine.ShouldUpdate(nowMs) {
		return features.Snapshot{}, false
	}

	snap := m.engine.Update(nowMs, m.book, m.prevBookSnapshot, m.tradeWindow, m.prevTradeWindow, m.prevAvgTrade, m.depths)

	m.prevAvgTrade = snap.AvgTradePrice
	m.prevTradeWindow = m.tradeWindow
	m.tradeWindow = nil
	m.prevBookSnapshot = m.cloneBook()
	m.lastSnapshot = snap
	return snap, true
}

func (m *Maker) cloneBook() *book.Book {
	clone := book.New(m.symbol, m.book.Params)
	clone.Reset(m.book.Bids(), m.book.Asks(), m.book.LastUpdate, m.book.Sequence)
	return clone
}

// LastSnapshot returns the most recently computed feature snapshot.
func (m *Maker) LastSnapshot() features.Snapshot { return m.lastSnapshot }

// Book exposes a read-only view for the dashboard/guardrail; callers must
// not mutate the returned book's ladders.
func (m *Maker) Book() *book.Book { return m.book }

// QuoteState returns a copy of the quote generator's current state, for
// internal/store persistence and dashboard reporting.
func (m *Maker) QuoteState() quote.State { return m.gen.State() }

// RestoreQuoteState seeds the quote generator from a previously persisted
// state, typically right after New on process startup.
func (m *Maker) RestoreQuoteState(state quote.State) { m.gen.Restore(state) }

// reportToGuardrail submits the current tick's position report and, if the
// kill switch is active, cancels the resting grid instead of refreshing it.
func (m *Maker) reportToGuardrail(ctx context.Context, snap features.Snapshot) (haltQuoting bool) {
	if m.guard == nil {
		return false
	}
	mid := m.book.MidPrice()
	m.guard.Report(guardrail.Report{
		Symbol:      m.symbol,
		PositionQty: m.gen.State().PositionQty,
		MidPrice:    mid,
		Volatility:  snap.Volatility,
		Timestamp:   time.Now(),
	})
	if m.guard.IsKillSwitchActive() {
		if err := m.gen.CancelAll(ctx); err != nil {
			m.logger.Warn("guardrail cancel-all failed", "error", err)
		}
		return true
	}
	return false
}

func (m *Maker) emitDashboardEvent(evt dashboard.Event) {
	if m.dashboardEvents == nil {
		return
	}
	select {
	case m.dashboardEvents <- evt:
	default:
		m.logger.Warn("dashboard event channel full, dropping event")
	}
}

func (m *Maker) emitQuoteSnapshot(snap features.Snapshot) {
	if m.dashboardEvents == nil {
		return
	}
	state := m.gen.State()
	buys := make([]dashboard.OrderSide, len(state.LiveBuys))
	for i, o := range state.LiveBuys {
		buys[i] = dashboard.OrderSide{OrderID: o.OrderID, Price: o.Price, Qty: o.Qty}
	}
	sells := make([]dashboard.OrderSide, len(state.LiveSells))
	for i, o := range state.LiveSells {
		sells[i] = dashboard.OrderSide{OrderID: o.OrderID, Price: o.Price, Qty: o.Qty}
	}

	m.emitDashboardEvent(dashboard.Event{
		Type:      "quote",
		Timestamp: time.Now(),
		Symbol:    m.symbol,
		Data: dashboard.QuoteGridEvent{
			PositionQty: state.PositionQty,
			LiveBuys:    buys,
			LiveSells:   sells,
		},
	})
	m.emitDashboardEvent(dashboard.Event{
		Type:      "features",
		Timestamp: time.Now(),
		Symbol:    m.symbol,
		Data: dashboard.FeatureSnapshotEvent{
			BBAImbalance:   snap.BBAImbalance,
			VOI:            snap.VOI,
			OFI:            snap.OFI,
			TradeImbalance: snap.TradeImbalance,
			Volatility:     snap.Volatility,
			Skew:           snap.Skew,
			AvgTradePrice:  snap.AvgTradePrice,
		},
	})
}

// TickQuoteGenerator drives one quote-generator refresh cycle using the
// latest feature snapshot and any executions observed since the previous
// tick.
func (m *Maker) TickQuoteGenerator(ctx context.Context, executions []quote.Execution, nowBookMs uint64) error {
	snap := m.lastSnapshot
	err := m.gen.Update(ctx, m.book, snap.Volatility, snap.Skew, executions, nowBookMs)
	if err != nil {
		m.logger.Warn("quote generator skipped tick", "error", err)
	}
	return err
}

// Run is the per-symbol event loop: it applies market/trade frames as they
// arrive, ticks the feature engine and quote generator at 1 Hz of book
// time, and terminates when ctx is cancelled or any input channel closes.
func (m *Maker) Run(ctx context.Context, marketEvents <-chan MarketEvent, trades <-chan TradeEvent, executions <-chan quote.Execution) {
	var pendingExecutions []quote.Execution

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-marketEvents:
			if !ok {
				return
			}
			m.ApplyMarketEvent(ev)
			if snap, ticked := m.MaybeTickFeatures(ev.Timestamp); ticked {
				if halted := m.reportToGuardrail(ctx, snap); !halted {
					if err := m.TickQuoteGenerator(ctx, pendingExecutions, ev.Timestamp); err != nil {
						m.logger.Debug("quote tick error", "error", err)
					}
					pendingExecutions = nil
				}
				m.emitQuoteSnapshot(snap)
			}
		case tr, ok := <-trades:
			if !ok {
				return
			}
			m.ApplyTrade(tr)
		case ex, ok := <-executions:
			if !ok {
				return
			}
			pendingExecutions = append(pendingExecutions, ex)
			m.emitDashboardEvent(dashboard.Event{
				Type:      "fill",
				Timestamp: time.Now(),
				Symbol:    m.symbol,
				Data:      dashboard.NewFillEvent(ex.OrderID, ex.IsBuy, ex.Price, ex.ExecQty),
			})
		}
	}
}
