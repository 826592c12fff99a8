package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"derivmm/internal/book"
	"derivmm/internal/config"
	"derivmm/internal/features"
	"derivmm/internal/guardrail"
	"derivmm/internal/maker"
	"derivmm/internal/quote"
	"derivmm/internal/venueio"
)

type noopVenue struct{}

func (noopVenue) BatchOrders(context.Context, []quote.BatchOrder) ([]quote.LiveOrder, []quote.LiveOrder, error) {
	return nil, nil, nil
}
func (noopVenue) CancelAll(context.Context, string) ([]string, error) { return nil, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine builds an Engine with a single BTCUSDT slot, bypassing New
// (which hits the network for symbol info) entirely.
func newTestEngine() *Engine {
	logger := testLogger()
	params := book.Params{TickSize: 0.01, LotSize: 0.001, MinNotional: 5, PostOnlyMax: 100}
	qcfg := quote.DefaultConfig("BTCUSDT")
	qcfg.Asset, qcfg.Leverage, qcfg.TotalOrders = 1000, 1, 2
	qcfg.TickWindowSeconds, qcfg.RateLimit, qcfg.MinimumSpreadBps = 30, 5, 25
	qcfg.TickSize, qcfg.LotSize, qcfg.MinNotional, qcfg.PostOnlyMax = 0.01, 0.001, 5, 100
	gen := quote.NewGenerator(qcfg, noopVenue{})
	featEngine := features.NewEngine(20, 20, 20)
	m := maker.New("BTCUSDT", params, featEngine, gen, []int{1, 2}, nil, nil, logger)

	guardCfg := config.GuardrailConfig{MaxPortfolioExposureUSD: 1000}
	return &Engine{
		cfg:    config.Config{},
		logger: logger,
		guard:  guardrail.New(guardCfg, logger),
		slots: map[string]*symbolSlot{
			"BTCUSDT": {
				cfg:          config.SymbolConfig{Symbol: "BTCUSDT"},
				maker:        m,
				marketEvents: make(chan maker.MarketEvent, 4),
				trades:       make(chan maker.TradeEvent, 4),
				executions:   make(chan quote.Execution, 4),
			},
		},
	}
}

func TestOnMarketFrameRoutesToKnownSymbol(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	e.OnMarketFrame(venueio.MarketFrame{
		Symbol:    "BTCUSDT",
		Kind:      venueio.FrameSnapshot,
		Timestamp: 1000,
		Bids:      []book.PriceLevel{{Price: 99, Qty: 1}},
		Asks:      []book.PriceLevel{{Price: 101, Qty: 1}},
	})

	select {
	case ev := <-e.slots["BTCUSDT"].marketEvents:
		if ev.Kind != maker.Snapshot {
			t.Errorf("kind = %v, want Snapshot", ev.Kind)
		}
	default:
		t.Fatal("expected a market event to be queued")
	}
}

func TestOnMarketFrameIgnoresUnknownSymbol(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	e.OnMarketFrame(venueio.MarketFrame{Symbol: "ETHUSDT", Kind: venueio.FrameSnapshot})

	select {
	case ev := <-e.slots["BTCUSDT"].marketEvents:
		t.Errorf("unexpected event routed to BTCUSDT slot: %+v", ev)
	default:
	}
}

func TestOnTradeFrameRoutesToKnownSymbol(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	e.OnTradeFrame(venueio.TradeFrame{Symbol: "BTCUSDT", Price: 100, Qty: 1, IsBuy: true})

	select {
	case tr := <-e.slots["BTCUSDT"].trades:
		if !tr.IsBuy || tr.Price != 100 {
			t.Errorf("trade = %+v", tr)
		}
	default:
		t.Fatal("expected a trade event to be queued")
	}
}

func TestOnExecutionFrameRoutesToKnownSymbol(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	e.OnExecutionFrame(venueio.ExecutionFrame{Symbol: "BTCUSDT", OrderID: "o1", IsBuy: true, ExecQty: 1, Price: 100})

	select {
	case ex := <-e.slots["BTCUSDT"].executions:
		if ex.OrderID != "o1" {
			t.Errorf("execution = %+v", ex)
		}
	default:
		t.Fatal("expected an execution to be queued")
	}
}

func TestSymbolStatusesReportsConfiguredSymbol(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	statuses := e.SymbolStatuses()
	if len(statuses) != 1 || statuses[0].Symbol != "BTCUSDT" {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestGuardrailSnapshotReflectsConfiguredLimit(t *testing.T) {
	t.Parallel()
	e := newTestEngine()

	snap := e.GuardrailSnapshot()
	if snap.MaxExposure != 1000 {
		t.Errorf("max exposure = %v, want 1000", snap.MaxExposure)
	}
}
