// Package features implements the 1 Hz per-symbol feature aggregator: order
// book imbalances, order-flow/volume-order imbalance, trade imbalance,
// incremental VWAP, rolling volatility, rate-of-change and mid-price-basis
// z-scores, and the composite directional skew derived from all of them.
package features

import (
	"math"

	"derivmm/internal/book"
	"derivmm/internal/stats"
)

// Trade is a single executed trade observed on the public trade stream.
type Trade struct {
	Price float64
	Qty   float64
	IsBuy bool
}

// ZScoreStat mirrors the current/mean/std/z-score tuple exposed for both
// rate-of-change and mid-price-basis.
type ZScoreStat struct {
	Current float64
	Mean    float64
	Std     float64
	Z       float64
}

// Snapshot is the per-symbol, per-tick output of Engine.Update.
type Snapshot struct {
	Timestamp      uint64
	BBAImbalance   float64
	DeepImbalance  []float64
	VOI            float64
	OFI            float64
	TradeImbalance float64
	PriceImpact    float64
	Volatility     float64
	ROC            ZScoreStat
	MPB            ZScoreStat
	AvgTradePrice  float64
	Skew           float64
}

// Engine is the per-symbol feature aggregator. It is not safe for
// concurrent use; the owning maker.Maker goroutine ticks it serially.
type Engine struct {
	volatility *stats.RollingVolatility
	roc        *stats.RollingWindowStats
	mpb        *stats.RollingWindowStats

	lastFeatureUpdate uint64
	haveTick          bool
}

// NewEngine builds a feature engine with the given rolling-window sizes.
func NewEngine(volatilityWindow, rocWindow, mpbWindow int) *Engine {
	return &Engine{
		volatility: stats.NewRollingVolatility(volatilityWindow),
		roc:        stats.NewRollingWindowStats(rocWindow),
		mpb:        stats.NewRollingWindowStats(mpbWindow),
	}
}

// ShouldUpdate reports whether at least 1000ms of book time has elapsed
// since the last tick (or no tick has occurred yet).
func (e *Engine) ShouldUpdate(nowMs uint64) bool {
	if !e.haveTick {
		return true
	}
	return nowMs-e.lastFeatureUpdate >= 1000
}

// Update computes a new Snapshot from the current and previous book state
// and the trades observed since the previous tick. Callers must gate calls
// with ShouldUpdate; Update itself does not re-check the 1Hz cadence.
func (e *Engine) Update(
	nowMs uint64,
	currentBook, previousBook *book.Book,
	currentTrades, previousTrades []Trade,
	prevAvgTradePrice float64,
	depths []int,
) Snapshot {
	e.lastFeatureUpdate = nowMs
	e.haveTick = true

	bbaImbalance := currentBook.ImbalanceRatio(0)

	deepImbalance := make([]float64, len(depths))
	for i, d := range depths {
		deepImbalance[i] = currentBook.ImbalanceRatio(d)
	}

	voi := currentBook.VOI(previousBook, 0)
	ofi := currentBook.OFI(previousBook, 0)
	priceImpact := currentBook.PriceImpact(previousBook, 0)

	tradeImbalance := computeTradeImbalance(currentTrades)
	avgTradePrice := computeAvgTradePrice(currentBook.MidPrice(), currentTrades, previousTrades, prevAvgTradePrice)

	currMid := currentBook.MidPrice()
	prevMid := previousBook.MidPrice()

	sigma := e.volatility.Update(currMid)

	rocInput := 0.0
	if prevMid != 0 {
		rocInput = 100 * (currMid - prevMid) / prevMid
	}
	e.roc.Update(rocInput)
	rocStat := ZScoreStat{Current: e.roc.Current(), Mean: e.roc.Mean(), Std: e.roc.StdDev(), Z: e.roc.ZScore()}

	mpbInput := avgTradePrice - (prevMid+currMid)/2
	e.mpb.Update(mpbInput)
	mpbStat := ZScoreStat{Current: e.mpb.Current(), Mean: e.mpb.Mean(), Std: e.mpb.StdDev(), Z: e.mpb.ZScore()}

	skew := generateSkew(ofi, voi, tradeImbalance, bbaImbalance, deepImbalance, mpbStat, rocStat, sigma)

	return Snapshot{
		Timestamp:      nowMs,
		BBAImbalance:   bbaImbalance,
		DeepImbalance:  deepImbalance,
		VOI:            voi,
		OFI:            ofi,
		TradeImbalance: tradeImbalance,
		PriceImpact:    priceImpact,
		Volatility:     sigma,
		ROC:            rocStat,
		MPB:            mpbStat,
		AvgTradePrice:  avgTradePrice,
		Skew:           skew,
	}
}

// computeTradeImbalance returns 2*buyVol/total - 1 over the window, 0 when
// the window carried no volume.
func computeTradeImbalance(trades []Trade) float64 {
	var buyVol, total float64
	for _, tr := range trades {
		total += tr.Qty
		if tr.IsBuy {
			buyVol += tr.Qty
		}
	}
	if total == 0 {
		return 0
	}
	return 2*buyVol/total - 1
}

// computeAvgTradePrice is the incremental (marginal) VWAP: the VWAP of the
// trades that arrived strictly between the previous and current windows.
func computeAvgTradePrice(midPrice float64, current, previous []Trade, prevAvg float64) float64 {
	if previous == nil {
		if len(current) == 0 {
			return midPrice
		}
		return vwap(current)
	}

	volOld, turnOld := volumeTurnover(previous)
	volCur, turnCur := volumeTurnover(current)

	if volCur != volOld {
		return (turnCur - turnOld) / (volCur - volOld)
	}
	return prevAvg
}

func vwap(trades []Trade) float64 {
	vol, turn := volumeTurnover(trades)
	if vol == 0 {
		return 0
	}
	return turn / vol
}

func volumeTurnover(trades []Trade) (volume, turnover float64) {
	for _, tr := range trades {
		volume += tr.Qty
		turnover += tr.Qty * tr.Price
	}
	return volume, turnover
}

// generateSkew composes the directional skew from its weighted components,
// scaled by momentum and (inverse) volatility and clamped to [-1, 1].
func generateSkew(ofi, voi, tradeImbalance, bbaImbalance float64, deepImbalance []float64, mpb, roc ZScoreStat, sigma float64) float64 {
	var orderFlow float64
	switch {
	case ofi > 0 && voi > 0:
		orderFlow = 1
	case ofi < 0 && voi < 0:
		orderFlow = -1
	default:
		orderFlow = 0.5
	}

	tradeSkew := clamp(tradeImbalance, -1, 1)
	bookSkew := clamp(bbaImbalance, -1, 1)
	depthMean := mean(deepImbalance)

	var basisSkew float64
	if mpb.Std > 0 {
		basisSkew = math.Tanh(mpb.Z)
	} else {
		basisSkew = sign(mpb.Current)
	}

	momentumFactor := math.Abs(math.Tanh(roc.Z))
	volatilityFactor := 1 / math.Max(sigma, 0.001)

	raw := 0.30*tradeSkew + 0.25*bookSkew + 0.20*depthMean + 0.15*basisSkew + 0.10*orderFlow
	return clamp(math.Tanh(raw*momentumFactor*volatilityFactor), -1, 1)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
