// Package quote implements the per-symbol quote grid: a geometric price
// ladder crossed with geometric size weights, coupled to inventory and the
// feature engine's skew, refreshed on a bounds/staleness trigger and placed
// subject to a per-second rate budget.
package quote

import (
	"context"
	"math"
	"sort"

	"derivmm/internal/book"
)

// LiveOrder is a resting order this generator placed, identified by
// order_id.
type LiveOrder struct {
	OrderID string
	Price   float64
	Qty     float64
}

// BatchOrder is an immutable instruction to place one new order.
type BatchOrder struct {
	Symbol string
	Price  float64
	Qty    float64
	IsBuy  bool
}

// BatchAmend is an immutable instruction to amend a resting order.
type BatchAmend struct {
	Symbol  string
	Price   float64
	Qty     float64
	OrderID string
}

// Execution is a private-stream fill event.
type Execution struct {
	OrderID string
	IsBuy   bool
	ExecQty float64
	Price   float64
}

// Venue is the collaborator contract the generator needs from a venue
// client: batch placement and cancel-all. Transport, signing, and retries
// live entirely on the implementation's side.
type Venue interface {
	BatchOrders(ctx context.Context, orders []BatchOrder) (buys, sells []LiveOrder, err error)
	CancelAll(ctx context.Context, symbol string) (cancelledOrderIDs []string, err error)
}

// Config is the generator's immutable configuration.
type Config struct {
	Symbol string

	Asset    float64 // account balance allocated to this symbol, USD
	Leverage float64

	TotalOrders        int
	TickWindowSeconds  float64
	RateLimit          int // shared initial place-batch / cancel-batch budget per second of book time
	FinalOrderDistance float64
	MinimumSpreadBps   float64 // 0 => use volatility-implied floor
	BidR, AskR         float64 // geometric size-weight ratios, default 0.37/0.37

	TickSize    float64
	LotSize     float64
	MinNotional float64
	PostOnlyMax float64
}

// MaxPositionUSD is the derived notional cap: asset * leverage * 0.95.
func (c Config) MaxPositionUSD() float64 { return c.Asset * c.Leverage * 0.95 }

// DefaultConfig fills in the documented defaults for the fields that carry
// one (final_order_distance, geometric ratios).
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:             symbol,
		FinalOrderDistance: 10.0,
		BidR:               0.37,
		AskR:               0.37,
	}
}

// State is the generator's mutable, single-owner state.
type State struct {
	PositionQty float64

	LiveBuys  []LiveOrder
	LiveSells []LiveOrder

	LastUpdatePrice float64
	lastRefreshBook uint64 // book time (ms) of the last successful refresh

	rateWindowStart    uint64
	rateLimitRemaining int
	cancelLimitRemaining int
}

// Generator owns one symbol's quote grid.
type Generator struct {
	cfg   Config
	venue Venue
	state State
}

// NewGenerator builds a generator for the given config and venue
// collaborator, with both rate budgets initialized to cfg.RateLimit.
func NewGenerator(cfg Config, venue Venue) *Generator {
	return &Generator{
		cfg:   cfg,
		venue: venue,
		state: State{
			rateLimitRemaining:   cfg.RateLimit,
			cancelLimitRemaining: cfg.RateLimit,
		},
	}
}

// State returns a copy of the generator's current state, for inspection and
// for internal/store persistence.
func (g *Generator) State() State { return g.state }

// Restore seeds the generator from a previously persisted state, typically
// right after NewGenerator on process startup. Rate-window bookkeeping is
// not restored; it resets cleanly on the first tick.
func (g *Generator) Restore(state State) {
	state.rateLimitRemaining = g.cfg.RateLimit
	state.cancelLimitRemaining = g.cfg.RateLimit
	state.rateWindowStart = 0
	g.state = state
}

// CancelAll cancels the resting grid on the venue and clears local live-order
// state, without placing a replacement. Used by the guardrail-triggered halt.
func (g *Generator) CancelAll(ctx context.Context) error {
	cancelledIDs, err := g.venue.CancelAll(ctx, g.cfg.Symbol)
	if err != nil {
		return err
	}
	g.pruneCancelled(cancelledIDs)
	return nil
}

// InventoryDelta returns position_qty*mid / max_position_usd, 0 when flat
// or when max_position_usd is not configured.
func (g *Generator) InventoryDelta(mid float64) float64 {
	return inventoryDelta(g.state.PositionQty, mid, g.cfg.MaxPositionUSD())
}

func inventoryDelta(positionQty, mid, maxPositionUSD float64) float64 {
	if positionQty == 0 || maxPositionUSD == 0 {
		return 0
	}
	return positionQty * mid / maxPositionUSD
}

// ApplyExecutions performs fill accounting: each execution that matches a
// live order (by order_id and side) moves that order's full quantity into
// position and removes the order from the live set. Fills never trigger a
// refresh on their own.
func (g *Generator) ApplyExecutions(executions []Execution) {
	for _, ex := range executions {
		if ex.ExecQty <= 0 {
			continue
		}
		if ex.IsBuy {
			if idx, ok := findOrder(g.state.LiveBuys, ex.OrderID); ok {
				g.state.PositionQty += g.state.LiveBuys[idx].Qty
				g.state.LiveBuys = removeOrder(g.state.LiveBuys, idx)
			}
		} else {
			if idx, ok := findOrder(g.state.LiveSells, ex.OrderID); ok {
				g.state.PositionQty -= g.state.LiveSells[idx].Qty
				g.state.LiveSells = removeOrder(g.state.LiveSells, idx)
			}
		}
	}
}

func findOrder(orders []LiveOrder, orderID string) (int, bool) {
	for i, o := range orders {
		if o.OrderID == orderID {
			return i, true
		}
	}
	return 0, false
}

func removeOrder(orders []LiveOrder, idx int) []LiveOrder {
	return append(orders[:idx], orders[idx+1:]...)
}

// maybeResetRateWindow resets both rate budgets to their initial value once
// a full second of book time has elapsed since the last reset.
func (g *Generator) maybeResetRateWindow(nowBookMs uint64) {
	if g.state.rateWindowStart == 0 {
		g.state.rateWindowStart = nowBookMs
		return
	}
	if nowBookMs-g.state.rateWindowStart > 1000 {
		g.state.rateLimitRemaining = g.cfg.RateLimit
		g.state.cancelLimitRemaining = g.cfg.RateLimit
		g.state.rateWindowStart = nowBookMs
	}
}

// shouldRefresh evaluates the three trigger conditions: empty book of live
// orders, mid price drifted outside bounds, or the book has gone stale
// relative to the last refresh.
func (g *Generator) shouldRefresh(bk *book.Book, sigma, nowBookMs float64) bool {
	if len(g.state.LiveBuys) == 0 && len(g.state.LiveSells) == 0 {
		return true
	}
	if g.state.LastUpdatePrice != 0 {
		bounds := computeSpread(bk.Spread(), sigma, g.cfg.TickWindowSeconds, g.cfg.MinimumSpreadBps, g.state.LastUpdatePrice)
		mid := bk.MidPrice()
		if mid < g.state.LastUpdatePrice-bounds || mid > g.state.LastUpdatePrice+bounds {
			return true
		}
	}
	if nowBookMs-float64(g.state.lastRefreshBook) > g.cfg.TickWindowSeconds*1000 {
		return true
	}
	return false
}

// Update runs one tick of the orchestration: applies fills, resets the
// per-second rate window, evaluates the refresh trigger, and — if
// triggered and budget allows — cancels the existing grid and places a new
// one. sigma is the feature engine's current volatility; skew is its
// current composite skew.
func (g *Generator) Update(ctx context.Context, bk *book.Book, sigma, skew float64, executions []Execution, nowBookMs uint64) error {
	g.ApplyExecutions(executions)
	g.maybeResetRateWindow(nowBookMs)

	if !g.shouldRefresh(bk, sigma, float64(nowBookMs)) {
		return nil
	}
	if g.state.cancelLimitRemaining <= 1 {
		return nil // RateBudgetExceeded: skip this tick, try again next
	}

	cancelledIDs, err := g.venue.CancelAll(ctx, g.cfg.Symbol)
	if err != nil {
		return err // VenueRejected/TransientNetwork: logged by caller, no inline retry
	}
	g.pruneCancelled(cancelledIDs)
	g.state.LastUpdatePrice = bk.MidPrice()
	g.state.cancelLimitRemaining--
	g.state.lastRefreshBook = nowBookMs

	orders, err := g.buildGrid(bk, sigma, skew)
	if err != nil {
		return err
	}

	return g.placeInChunks(ctx, orders)
}

func (g *Generator) pruneCancelled(cancelledIDs []string) {
	cancelled := make(map[string]struct{}, len(cancelledIDs))
	for _, id := range cancelledIDs {
		cancelled[id] = struct{}{}
	}
	g.state.LiveBuys = filterOut(g.state.LiveBuys, cancelled)
	g.state.LiveSells = filterOut(g.state.LiveSells, cancelled)
}

func filterOut(orders []LiveOrder, cancelled map[string]struct{}) []LiveOrder {
	out := orders[:0:0]
	for _, o := range orders {
		if _, dropped := cancelled[o.OrderID]; !dropped {
			out = append(out, o)
		}
	}
	return out
}

const orderChunkSize = 10

func (g *Generator) placeInChunks(ctx context.Context, orders []BatchOrder) error {
	for len(orders) > 0 && g.state.rateLimitRemaining > 0 {
		n := orderChunkSize
		if n > len(orders) {
			n = len(orders)
		}
		chunk := orders[:n]
		orders = orders[n:]

		buys, sells, err := g.venue.BatchOrders(ctx, chunk)
		if err != nil {
			g.state.rateLimitRemaining-- // back-pressure even on venue error
			continue
		}
		g.state.LiveBuys = append(g.state.LiveBuys, buys...)
		g.state.LiveSells = append(g.state.LiveSells, sells...)
		sort.Slice(g.state.LiveBuys, func(i, j int) bool { return g.state.LiveBuys[i].Price > g.state.LiveBuys[j].Price })
		sort.Slice(g.state.LiveSells, func(i, j int) bool { return g.state.LiveSells[i].Price < g.state.LiveSells[j].Price })
		g.state.rateLimitRemaining--
	}
	return nil
}

// computeSpread applies the volatility-adjusted spread/bounds formula with
// the given anchor price.
func computeSpread(bookSpread, sigma, tickWindow, minimumSpreadBps, anchorPrice float64) float64 {
	effectiveBps := minimumSpreadBps
	if effectiveBps == 0 {
		effectiveBps = sigma * 100 * math.Sqrt(tickWindow)
	}
	baseMin := bpsToDecimal(effectiveBps) * anchorPrice
	mul := 1 + sigma*100*math.Sqrt(tickWindow)
	lo := baseMin * mul
	hi := lo * 3.7 * mul
	return clamp(bookSpread, lo, hi)
}

// buildGrid constructs the two-sided price ladder and returns the
// BatchOrders to place, honoring the inventory guardrail and notional
// filter. It returns ErrDegenerateComputation if any intermediate value is
// non-finite.
func (g *Generator) buildGrid(bk *book.Book, sigma, skewSigned float64) ([]BatchOrder, error) {
	mid := bk.MidPrice()
	spread := computeSpread(bk.Spread(), sigma, g.cfg.TickWindowSeconds, g.cfg.MinimumSpreadBps, mid)

	invDelta := inventoryDelta(g.state.PositionQty, mid, g.cfg.MaxPositionUSD())
	invF := nbsqrt(invDelta)
	skewF := skewSigned * (1 - math.Abs(invF))
	combined := clamp(skewF-0.63*invF, -1, 1)
	positive := combined >= 0

	s := math.Abs(skewSigned)
	sqrtS := math.Sqrt(s)

	var bestBid, bestAsk float64
	if positive {
		bestBid = mid - spread*(1-sqrtS)
		bestAsk = bestBid + spread
	} else {
		bestAsk = mid + spread*(1-sqrtS)
		bestBid = bestAsk - spread
	}

	if !finite(bestBid) || !finite(bestAsk) || !finite(spread) {
		return nil, ErrDegenerateComputation
	}

	bidPrices := geomspace(bestBid-spread*g.cfg.FinalOrderDistance, bestBid, g.cfg.TotalOrders)
	askPrices := geomspace(bestAsk, bestAsk+spread*g.cfg.FinalOrderDistance, g.cfg.TotalOrders)

	bidWeights := geometricWeights(g.cfg.BidR, g.cfg.TotalOrders, false)
	askWeights := geometricWeights(g.cfg.AskR, g.cfg.TotalOrders, true)

	maxBuyNotional := g.cfg.MaxPositionUSD()/2 - g.state.PositionQty*mid
	maxSellNotional := g.cfg.MaxPositionUSD()/2 + g.state.PositionQty*mid

	var orders []BatchOrder
	places := countDecimalPlaces(g.cfg.TickSize)

	if invDelta < 0.5 {
		for i, price := range bidPrices {
			if price <= 0 {
				continue
			}
			size := clampPostOnly(bidWeights[i]*maxBuyNotional/price, g.cfg.PostOnlyMax)
			price = roundTo(price, places)
			size = roundStep(size, g.cfg.LotSize)
			if price*size < g.cfg.MinNotional {
				continue
			}
			orders = append(orders, BatchOrder{Symbol: g.cfg.Symbol, Price: price, Qty: size, IsBuy: true})
		}
	}
	if invDelta > -0.5 {
		for i, price := range askPrices {
			if price <= 0 {
				continue
			}
			size := clampPostOnly(askWeights[i]*maxSellNotional/price, g.cfg.PostOnlyMax)
			price = roundTo(price, places)
			size = roundStep(size, g.cfg.LotSize)
			if price*size < g.cfg.MinNotional {
				continue
			}
			orders = append(orders, BatchOrder{Symbol: g.cfg.Symbol, Price: price, Qty: size, IsBuy: false})
		}
	}

	return orders, nil
}

func clampPostOnly(size, max float64) float64 {
	if max > 0 && size > max {
		return max
	}
	if size < 0 {
		return 0
	}
	return size
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
