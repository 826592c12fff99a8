package quote

import (
	"context"
	"math"
	"testing"

	"derivmm/internal/book"
)

type fakeVenue struct {
	nextID       int
	cancelAllIDs []string
	batchCalls   int
}

func (f *fakeVenue) BatchOrders(_ context.Context, orders []BatchOrder) ([]LiveOrder, []LiveOrder, error) {
	f.batchCalls++
	var buys, sells []LiveOrder
	for _, o := range orders {
		f.nextID++
		lo := LiveOrder{OrderID: idOf(f.nextID), Price: o.Price, Qty: o.Qty}
		if o.IsBuy {
			buys = append(buys, lo)
		} else {
			sells = append(sells, lo)
		}
	}
	return buys, sells, nil
}

func (f *fakeVenue) CancelAll(_ context.Context, _ string) ([]string, error) {
	ids := f.cancelAllIDs
	f.cancelAllIDs = nil
	return ids, nil
}

func idOf(n int) string {
	return "order-" + string(rune('a'+n%26)) + string(rune('0'+n/26))
}

func testBook() *book.Book {
	b := book.New("BTCUSDT", book.Params{TickSize: 0.01, LotSize: 0.001, MinNotional: 5, PostOnlyMax: 100})
	b.Reset(
		[]book.PriceLevel{{99.99, 10}, {99.98, 10}},
		[]book.PriceLevel{{100.01, 10}, {100.02, 10}},
		1000, 1,
	)
	return b
}

func testConfig() Config {
	c := DefaultConfig("BTCUSDT")
	c.Asset = 1000
	c.Leverage = 1
	c.TotalOrders = 2
	c.TickWindowSeconds = 30
	c.RateLimit = 2
	c.MinimumSpreadBps = 25
	c.TickSize = 0.01
	c.LotSize = 0.001
	c.MinNotional = 5
	c.PostOnlyMax = 100
	return c
}

// Geometric weights sum to 1 and reverse is the reversed permutation.
func TestGeometricWeightsSumToOne(t *testing.T) {
	t.Parallel()
	w := geometricWeights(0.37, 5, false)
	sum := 0.0
	for _, x := range w {
		sum += x
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum = %v, want 1", sum)
	}
}

func TestGeometricWeightsReverseIsPermutation(t *testing.T) {
	t.Parallel()
	fwd := geometricWeights(0.37, 4, false)
	rev := geometricWeights(0.37, 4, true)
	for i := range fwd {
		if fwd[i] != rev[len(rev)-1-i] {
			t.Errorf("reverse not a reversed permutation at %d: %v vs %v", i, fwd, rev)
		}
	}
}

func TestGeomspaceSinglePointCollapsesToEnd(t *testing.T) {
	t.Parallel()
	got := geomspace(90, 100, 1)
	if len(got) != 1 || got[0] != 100 {
		t.Errorf("geomspace(n=1) = %v, want [100]", got)
	}
}

func TestNbsqrtHandlesNegative(t *testing.T) {
	t.Parallel()
	got := nbsqrt(-4)
	if math.IsNaN(got) {
		t.Fatal("nbsqrt(-4) is NaN")
	}
	if got != -2 {
		t.Errorf("nbsqrt(-4) = %v, want -2", got)
	}
}

// A flat position implies zero inventory delta.
func TestInventoryDeltaZeroWhenFlat(t *testing.T) {
	t.Parallel()
	if got := inventoryDelta(0, 100, 1000); got != 0 {
		t.Errorf("inventory delta = %v, want 0", got)
	}
}

// total_orders = 1 yields exactly one bid and one ask.
func TestBuildGridSingleOrderPerSide(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.TotalOrders = 1
	g := NewGenerator(cfg, &fakeVenue{})
	orders, err := g.buildGrid(testBook(), 0.001, 0)
	if err != nil {
		t.Fatalf("buildGrid error: %v", err)
	}
	buys, sells := 0, 0
	for _, o := range orders {
		if o.IsBuy {
			buys++
		} else {
			sells++
		}
	}
	if buys != 1 || sells != 1 {
		t.Errorf("buys=%d sells=%d, want 1 and 1", buys, sells)
	}
}

// Every placed order respects min notional, post-only max, and lot size.
func TestBuildGridRespectsOrderConstraints(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g := NewGenerator(cfg, &fakeVenue{})
	orders, err := g.buildGrid(testBook(), 0.01, 0.2)
	if err != nil {
		t.Fatalf("buildGrid error: %v", err)
	}
	for _, o := range orders {
		if o.Price*o.Qty < cfg.MinNotional {
			t.Errorf("order below min notional: %+v", o)
		}
		if o.Qty > cfg.PostOnlyMax {
			t.Errorf("order exceeds post-only max: %+v", o)
		}
		scaled := o.Qty / cfg.LotSize
		if math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Errorf("order qty not a lot-size multiple: %+v", o)
		}
	}
}

// Saturated inventory suppresses one side of the grid.
func TestBuildGridSuppressesBidWhenInventorySaturatedPositive(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g := NewGenerator(cfg, &fakeVenue{})
	g.state.PositionQty = 6 // inventory_delta = 6*100/(1000*0.95) ≈ 0.63 > 0.5

	orders, err := g.buildGrid(testBook(), 0.01, 0)
	if err != nil {
		t.Fatalf("buildGrid error: %v", err)
	}
	for _, o := range orders {
		if o.IsBuy {
			t.Errorf("bid order emitted despite saturated long inventory: %+v", o)
		}
	}
}

func TestBuildGridSuppressesAskWhenInventorySaturatedNegative(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	g := NewGenerator(cfg, &fakeVenue{})
	g.state.PositionQty = -6

	orders, err := g.buildGrid(testBook(), 0.01, 0)
	if err != nil {
		t.Fatalf("buildGrid error: %v", err)
	}
	for _, o := range orders {
		if !o.IsBuy {
			t.Errorf("ask order emitted despite saturated short inventory: %+v", o)
		}
	}
}

// First tick with no live orders triggers a refresh and places a grid.
func TestUpdateFirstTickTriggersRefresh(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{}
	cfg := testConfig()
	g := NewGenerator(cfg, venue)

	err := g.Update(context.Background(), testBook(), 0.001, 0, nil, 1000)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if venue.batchCalls == 0 {
		t.Error("expected a batch placement on first tick")
	}
	if len(g.state.LiveBuys)+len(g.state.LiveSells) == 0 {
		t.Error("expected live orders after first refresh")
	}
}

// Rate counters never go negative and respect the per-window budget.
func TestRateLimitNeverNegative(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{}
	cfg := testConfig()
	cfg.RateLimit = 1
	g := NewGenerator(cfg, venue)

	g.Update(context.Background(), testBook(), 0.001, 0, nil, 1000)
	if g.state.rateLimitRemaining < 0 {
		t.Errorf("rate limit went negative: %d", g.state.rateLimitRemaining)
	}
	if g.state.cancelLimitRemaining < 0 {
		t.Errorf("cancel limit went negative: %d", g.state.cancelLimitRemaining)
	}
}

func TestNoRefreshWhenWithinBoundsAndNotStale(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{}
	cfg := testConfig()
	g := NewGenerator(cfg, venue)

	g.Update(context.Background(), testBook(), 0.001, 0, nil, 1000)
	callsAfterFirst := venue.batchCalls

	// Same book 10ms later: mid unchanged, within the minimum-spread-derived
	// bounds and far from stale.
	b2 := testBook()
	g.Update(context.Background(), b2, 0.001, 0, nil, 1010)

	if venue.batchCalls != callsAfterFirst {
		t.Errorf("unexpected refresh on unchanged book: calls %d -> %d", callsAfterFirst, venue.batchCalls)
	}
}

// Fill accounting: a matching execution moves the full order quantity into
// position and removes the order from the live set.
func TestApplyExecutionsMovesPositionAndRemovesOrder(t *testing.T) {
	t.Parallel()
	g := NewGenerator(testConfig(), &fakeVenue{})
	g.state.LiveBuys = []LiveOrder{{OrderID: "b1", Price: 99, Qty: 2}}

	g.ApplyExecutions([]Execution{{OrderID: "b1", IsBuy: true, ExecQty: 0.5, Price: 99}})

	if g.state.PositionQty != 2 {
		t.Errorf("position qty = %v, want 2 (full order qty, not exec qty)", g.state.PositionQty)
	}
	if len(g.state.LiveBuys) != 0 {
		t.Errorf("filled order still live: %+v", g.state.LiveBuys)
	}
}
