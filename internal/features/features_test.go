package features

import (
	"math"
	"testing"

	"derivmm/internal/book"
)

func freshBook(bid, ask float64) *book.Book {
	b := book.New("BTCUSDT", book.Params{TickSize: 0.01, LotSize: 0.001, MinNotional: 5})
	b.Reset([]book.PriceLevel{{bid, 10}}, []book.PriceLevel{{ask, 10}}, 1000, 1)
	return b
}

func TestTradeImbalanceZeroOnNoVolume(t *testing.T) {
	t.Parallel()
	if got := computeTradeImbalance(nil); got != 0 {
		t.Errorf("trade imbalance on empty window = %v, want 0", got)
	}
}

func TestTradeImbalanceAllBuys(t *testing.T) {
	t.Parallel()
	trades := []Trade{{Price: 100, Qty: 5, IsBuy: true}, {Price: 101, Qty: 5, IsBuy: true}}
	if got := computeTradeImbalance(trades); got != 1 {
		t.Errorf("all-buy trade imbalance = %v, want 1", got)
	}
}

// Avg trade price uses the marginal VWAP of the trade window.
func TestAvgTradePriceMarginalVWAP(t *testing.T) {
	t.Parallel()
	previous := []Trade{{Price: 100, Qty: 10}} // turnover 1000, volume 10
	current := []Trade{{Price: 100, Qty: 10}, {Price: 125, Qty: 4}}

	got := computeAvgTradePrice(100, current, previous, 100)
	if math.Abs(got-125) > 1e-9 {
		t.Errorf("avg trade price = %v, want 125", got)
	}
}

func TestAvgTradePriceFallsBackToPrevWhenVolumeUnchanged(t *testing.T) {
	t.Parallel()
	previous := []Trade{{Price: 100, Qty: 10}}
	current := []Trade{{Price: 100, Qty: 10}}

	got := computeAvgTradePrice(100, current, previous, 123.45)
	if got != 123.45 {
		t.Errorf("avg trade price = %v, want fallback 123.45", got)
	}
}

func TestAvgTradePriceNoHistoryUsesPlainVWAP(t *testing.T) {
	t.Parallel()
	current := []Trade{{Price: 100, Qty: 1}, {Price: 200, Qty: 1}}
	got := computeAvgTradePrice(150, current, nil, 0)
	if math.Abs(got-150) > 1e-9 {
		t.Errorf("avg trade price = %v, want 150", got)
	}
}

func TestAvgTradePriceEmptyCurrentReturnsMid(t *testing.T) {
	t.Parallel()
	got := computeAvgTradePrice(150, nil, nil, 0)
	if got != 150 {
		t.Errorf("avg trade price = %v, want mid 150", got)
	}
}

// Skew composition with explicit component values.
func TestGenerateSkewMatchesWorkedExample(t *testing.T) {
	t.Parallel()
	mpb := ZScoreStat{Current: 0, Std: 0}
	roc := ZScoreStat{Z: 2}
	got := generateSkew(1, 1, 0.05, -0.10, nil, mpb, roc, 0.01)
	// raw = 0.30*0.05 + 0.25*(-0.10) + 0.10*1 = 0.09; skew = tanh(0.09 * tanh(2) * 100).
	want := math.Tanh(0.09 * math.Tanh(2) * 100)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("skew = %v, want %v", got, want)
	}
}

// Skew is always clamped to [-1, 1].
func TestGenerateSkewAlwaysClamped(t *testing.T) {
	t.Parallel()
	cases := []struct {
		ofi, voi, tradeImb, bbaImb, sigma float64
		roc                               float64
	}{
		{100, 100, 5, 5, 0.0001, 50},
		{-100, -100, -5, -5, 10, -50},
		{0, 0, 0, 0, 0, 0},
	}
	for _, c := range cases {
		mpb := ZScoreStat{Current: 1, Std: 1, Z: 3}
		roc := ZScoreStat{Z: c.roc}
		got := generateSkew(c.ofi, c.voi, c.tradeImb, c.bbaImb, nil, mpb, roc, c.sigma)
		if got < -1 || got > 1 {
			t.Errorf("skew out of bounds: %v", got)
		}
	}
}

// Sigma of 0 must not divide by zero.
func TestGenerateSkewZeroVolatilityNoDivideByZero(t *testing.T) {
	t.Parallel()
	mpb := ZScoreStat{Current: 0, Std: 0}
	roc := ZScoreStat{Z: 0}
	got := generateSkew(0, 0, 0, 0, nil, mpb, roc, 0)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Errorf("skew is not finite with zero volatility: %v", got)
	}
}

func TestEngineShouldUpdateBeforeFirstTick(t *testing.T) {
	t.Parallel()
	e := NewEngine(20, 20, 20)
	if !e.ShouldUpdate(12345) {
		t.Error("ShouldUpdate should be true before any tick")
	}
}

func TestEngineShouldUpdateCadence(t *testing.T) {
	t.Parallel()
	e := NewEngine(20, 20, 20)
	prev := freshBook(99.99, 100.01)
	cur := freshBook(99.99, 100.01)
	e.Update(1000, cur, prev, nil, nil, 100, nil)

	if e.ShouldUpdate(1500) {
		t.Error("ShouldUpdate should be false before 1000ms elapse")
	}
	if !e.ShouldUpdate(2001) {
		t.Error("ShouldUpdate should be true after 1000ms elapse")
	}
}

func TestEngineUpdateProducesBoundedSkew(t *testing.T) {
	t.Parallel()
	e := NewEngine(20, 20, 20)
	prev := freshBook(99.99, 100.01)
	cur := freshBook(100.05, 100.06)

	snap := e.Update(2000, cur, prev, []Trade{{Price: 100.05, Qty: 3, IsBuy: true}}, nil, 100, []int{1, 2})
	if snap.Skew < -1 || snap.Skew > 1 {
		t.Errorf("skew out of bounds: %v", snap.Skew)
	}
	if len(snap.DeepImbalance) != 2 {
		t.Errorf("deep imbalance length = %d, want 2", len(snap.DeepImbalance))
	}
}
