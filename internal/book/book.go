// Package book maintains a per-symbol local mirror of a venue's level-2
// order book from snapshot and delta events, and exposes a library of
// microstructure analytics over it (weighted depth, imbalance, order-flow
// and volume-order imbalance, price impact).
//
// A Book is owned exclusively by the goroutine that feeds it frames
// (see package maker); callers elsewhere read through cloned snapshots,
// not by reaching into a live Book concurrently.
package book

import (
	"math"
	"sort"
)

// PriceLevel is a single price/quantity pair. A zero Qty marks deletion
// when it appears inside a delta.
type PriceLevel struct {
	Price float64
	Qty   float64
}

// Params are the immutable venue-supplied market parameters for a symbol.
type Params struct {
	TickSize    float64
	LotSize     float64
	MinNotional float64
	MinQty      float64
	PostOnlyMax float64
}

// Book is the local order book for one symbol. Bids and asks are kept as
// price-ascending slices; the best bid is the last element of bids, the
// best ask is the first element of asks. A sorted slice with binary-search
// insert is sufficient at the depths (≤ a few hundred levels) venues send.
type Book struct {
	Symbol string
	Params Params

	LastUpdate uint64 // ms since epoch, most recent applied event
	Sequence   uint64 // monotonic venue sequence number

	bids []PriceLevel // ascending by price
	asks []PriceLevel // ascending by price

	bestBid  PriceLevel
	bestAsk  PriceLevel
	midPrice float64
}

// New returns an empty book for symbol with the given immutable parameters.
func New(symbol string, params Params) *Book {
	return &Book{Symbol: symbol, Params: params}
}

// sentinel is the zero value returned for an absent best bid/ask.
var sentinel = PriceLevel{}

// BestBid returns the current best bid, or the sentinel (0,0) if no bids
// are resting.
func (b *Book) BestBid() PriceLevel { return b.bestBid }

// BestAsk returns the current best ask, or the sentinel (0,0) if no asks
// are resting.
func (b *Book) BestAsk() PriceLevel { return b.bestAsk }

// MidPrice returns (best_bid + best_ask) / 2. On a one-sided book this is
// simply half the resting side's price, per the sentinel's zero value —
// that is the documented behavior, not a bug to special-case away.
func (b *Book) MidPrice() float64 { return b.midPrice }

// Bids returns a defensive copy of the bid ladder, ascending by price.
func (b *Book) Bids() []PriceLevel { return append([]PriceLevel(nil), b.bids...) }

// Asks returns a defensive copy of the ask ladder, ascending by price.
func (b *Book) Asks() []PriceLevel { return append([]PriceLevel(nil), b.asks...) }

// Reset replaces the book wholesale from an authoritative snapshot. No
// monotonicity check is performed — snapshots always win.
func (b *Book) Reset(bids, asks []PriceLevel, timestamp, sequence uint64) {
	b.bids = sortedNonZero(bids)
	b.asks = sortedNonZero(asks)
	b.LastUpdate = timestamp
	b.Sequence = sequence
	b.recomputeTop()
}

// UpdateBBA applies a top-of-book delta. It is dropped (returns false) when
// timestamp or sequence indicate the frame is stale or duplicate.
//
// After merging the delta, the ladders are pruned to keys no better than the
// delta's own best price on each side — this mirrors observed venue-adapter
// behavior where the prune threshold comes from the incoming delta alone,
// not the union of delta and existing book; a delta whose top is worse than
// the current top can discard levels that were still valid.
func (b *Book) UpdateBBA(bids, asks []PriceLevel, timestamp, sequence uint64) bool {
	if timestamp <= b.LastUpdate || sequence <= b.Sequence {
		return false
	}

	newBestBid, haveBid := maxPrice(bids)
	newBestAsk, haveAsk := minPrice(asks)

	b.bids = mergeLevels(b.bids, bids)
	b.asks = mergeLevels(b.asks, asks)

	if haveBid {
		b.bids = pruneAbove(b.bids, newBestBid)
	}
	if haveAsk {
		b.asks = pruneBelow(b.asks, newBestAsk)
	}

	b.LastUpdate = timestamp
	b.Sequence = sequence
	b.recomputeTop()
	return true
}

// Update applies a depth delta (no sequence check). To keep top-of-book
// deltas from leaking into far levels this maintains, only delta entries at
// or beyond the depthLevels-th best price on each side (measured against
// the current ladder, before this delta is applied) are merged in. The
// cached best bid/ask/mid are intentionally left untouched — those are the
// province of UpdateBBA.
func (b *Book) Update(bids, asks []PriceLevel, timestamp uint64, depthLevels int) bool {
	if timestamp <= b.LastUpdate {
		return false
	}

	bidThreshold, haveBidThreshold := b.nthBestBidPrice(depthLevels)
	askThreshold, haveAskThreshold := b.nthBestAskPrice(depthLevels)

	var filteredBids, filteredAsks []PriceLevel
	for _, lvl := range bids {
		if !haveBidThreshold || lvl.Price <= bidThreshold {
			filteredBids = append(filteredBids, lvl)
		}
	}
	for _, lvl := range asks {
		if !haveAskThreshold || lvl.Price >= askThreshold {
			filteredAsks = append(filteredAsks, lvl)
		}
	}

	b.bids = mergeLevels(b.bids, filteredBids)
	b.asks = mergeLevels(b.asks, filteredAsks)
	b.LastUpdate = timestamp
	return true
}

func (b *Book) recomputeTop() {
	if len(b.bids) == 0 {
		b.bestBid = sentinel
	} else {
		b.bestBid = b.bids[len(b.bids)-1]
	}
	if len(b.asks) == 0 {
		b.bestAsk = sentinel
	} else {
		b.bestAsk = b.asks[0]
	}
	b.midPrice = (b.bestBid.Price + b.bestAsk.Price) / 2
}

// nthBestBidPrice returns the price of the n-th best (1-indexed) resting
// bid, or the worst resting bid if fewer than n are present.
func (b *Book) nthBestBidPrice(n int) (float64, bool) {
	if len(b.bids) == 0 {
		return 0, false
	}
	idx := len(b.bids) - n // bids ascending, best is last
	if idx < 0 {
		idx = 0
	}
	return b.bids[idx].Price, true
}

func (b *Book) nthBestAskPrice(n int) (float64, bool) {
	if len(b.asks) == 0 {
		return 0, false
	}
	idx := n - 1
	if idx >= len(b.asks) {
		idx = len(b.asks) - 1
	}
	return b.asks[idx].Price, true
}

// --- ladder helpers ---

func sortedNonZero(levels []PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Qty > 0 {
			out = append(out, lvl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// mergeLevels upserts delta into an ascending ladder, deleting entries with
// zero quantity.
func mergeLevels(ladder, delta []PriceLevel) []PriceLevel {
	for _, d := range delta {
		idx := sort.Search(len(ladder), func(i int) bool { return ladder[i].Price >= d.Price })
		found := idx < len(ladder) && ladder[idx].Price == d.Price
		switch {
		case d.Qty <= 0 && found:
			ladder = append(ladder[:idx], ladder[idx+1:]...)
		case d.Qty <= 0 && !found:
			// deleting a level that isn't present: no-op
		case found:
			ladder[idx].Qty = d.Qty
		default:
			ladder = append(ladder, PriceLevel{})
			copy(ladder[idx+1:], ladder[idx:])
			ladder[idx] = d
		}
	}
	return ladder
}

func pruneAbove(ladder []PriceLevel, maxPrice float64) []PriceLevel {
	out := ladder[:0:0]
	for _, lvl := range ladder {
		if lvl.Price <= maxPrice {
			out = append(out, lvl)
		}
	}
	return out
}

func pruneBelow(ladder []PriceLevel, minPrice float64) []PriceLevel {
	out := ladder[:0:0]
	for _, lvl := range ladder {
		if lvl.Price >= minPrice {
			out = append(out, lvl)
		}
	}
	return out
}

func maxPrice(levels []PriceLevel) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	m := levels[0].Price
	for _, lvl := range levels[1:] {
		if lvl.Price > m {
			m = lvl.Price
		}
	}
	return m, true
}

func minPrice(levels []PriceLevel) (float64, bool) {
	if len(levels) == 0 {
		return 0, false
	}
	m := levels[0].Price
	for _, lvl := range levels[1:] {
		if lvl.Price < m {
			m = lvl.Price
		}
	}
	return m, true
}

// --- analytics ---

const defaultDecay = 0.5

// Spread returns best_ask - best_bid.
func (b *Book) Spread() float64 { return b.bestAsk.Price - b.bestBid.Price }

// SpreadInTicks returns Spread expressed in tick-size units; 0 if tick size
// is not configured.
func (b *Book) SpreadInTicks() float64 {
	if b.Params.TickSize <= 0 {
		return 0
	}
	return b.Spread() / b.Params.TickSize
}

// GetDepth returns the top-n asks ascending and top-n bids descending.
func (b *Book) GetDepth(n int) (bids, asks []PriceLevel) {
	if n > len(b.asks) {
		n = len(b.asks)
	}
	asks = append([]PriceLevel(nil), b.asks[:n]...)

	nb := n
	if nb > len(b.bids) {
		nb = len(b.bids)
	}
	bids = make([]PriceLevel, nb)
	for i := 0; i < nb; i++ {
		bids[i] = b.bids[len(b.bids)-1-i]
	}
	return bids, asks
}

// WeightedBid sums exp(-lambda*i)*qty over the best d+1 bid levels, indexed
// 0 (best) through d inward.
func (b *Book) WeightedBid(d int, lambda float64) float64 {
	return weightedSum(bidsDescending(b.bids, d), lambda)
}

// WeightedAsk is WeightedBid's mirror on the ask side.
func (b *Book) WeightedAsk(d int, lambda float64) float64 {
	return weightedSum(topN(b.asks, d), lambda)
}

func (b *Book) weightedBidDefault(d int) float64 { return b.WeightedBid(d, defaultDecay) }
func (b *Book) weightedAskDefault(d int) float64 { return b.WeightedAsk(d, defaultDecay) }

func bidsDescending(bids []PriceLevel, d int) []PriceLevel {
	n := d + 1
	if n > len(bids) {
		n = len(bids)
	}
	out := make([]PriceLevel, n)
	for i := 0; i < n; i++ {
		out[i] = bids[len(bids)-1-i]
	}
	return out
}

func topN(levels []PriceLevel, d int) []PriceLevel {
	n := d + 1
	if n > len(levels) {
		n = len(levels)
	}
	return levels[:n]
}

func weightedSum(levels []PriceLevel, lambda float64) float64 {
	sum := 0.0
	for i, lvl := range levels {
		sum += math.Exp(-lambda*float64(i)) * lvl.Qty
	}
	return sum
}

// Wmid is the weighted mid computed from the weighted-bid/weighted-ask
// ratio; it falls back to MidPrice when both sides are empty (denominator
// zero).
func (b *Book) Wmid(d int) float64 {
	r, ok := b.imbalanceRatioRaw(d)
	if !ok {
		return b.midPrice
	}
	return b.bestBid.Price*(1-r) + b.bestAsk.Price*r
}

// Microprice is defined identically to Wmid in this codebase — both weight
// the inside prices by the opposite-side's share of weighted depth.
func (b *Book) Microprice(d int) float64 {
	return b.Wmid(d)
}

// imbalanceRatioRaw returns wbid/(wbid+wask) without the dead-zone applied,
// and false when the denominator is zero.
func (b *Book) imbalanceRatioRaw(d int) (float64, bool) {
	wbid := b.weightedBidDefault(d)
	wask := b.weightedAskDefault(d)
	denom := wbid + wask
	if denom == 0 {
		return 0, false
	}
	return wbid / denom, true
}

// ImbalanceRatio returns (wbid-wask)/(wbid+wask), collapsed to 0 inside the
// dead zone |ratio| <= 0.20 and on NaN or zero-denominator degeneracy.
func (b *Book) ImbalanceRatio(d int) float64 {
	wbid := b.weightedBidDefault(d)
	wask := b.weightedAskDefault(d)
	denom := wbid + wask
	if denom == 0 {
		return 0
	}
	ratio := (wbid - wask) / denom
	if math.IsNaN(ratio) || math.Abs(ratio) <= 0.20 {
		return 0
	}
	return ratio
}

// OFI is the order-flow imbalance between this book (current) and old.
func (b *Book) OFI(old *Book, d int) float64 {
	var bidOFI float64
	switch {
	case b.bestBid.Price > old.bestBid.Price:
		bidOFI = b.weightedBidDefault(d)
	case b.bestBid.Price == old.bestBid.Price:
		bidOFI = b.weightedBidDefault(d) - old.weightedBidDefault(d)
	default:
		bidOFI = -b.weightedBidDefault(d)
	}

	var askOFI float64
	switch {
	case b.bestAsk.Price < old.bestAsk.Price:
		askOFI = -b.weightedAskDefault(d)
	case b.bestAsk.Price == old.bestAsk.Price:
		askOFI = old.weightedAskDefault(d) - b.weightedAskDefault(d)
	default:
		askOFI = b.weightedAskDefault(d)
	}

	return bidOFI + askOFI
}

// VOI is the volume-order imbalance between this book and old: like OFI but
// zeroes the "ask retreats" and "bid retreats" cases instead of signing
// them, then combines the two sides by subtraction rather than addition.
func (b *Book) VOI(old *Book, d int) float64 {
	var bidV float64
	switch {
	case b.bestBid.Price > old.bestBid.Price:
		bidV = b.weightedBidDefault(d)
	case b.bestBid.Price == old.bestBid.Price:
		bidV = b.weightedBidDefault(d) - old.weightedBidDefault(d)
	default:
		bidV = 0
	}

	var askV float64
	switch {
	case b.bestAsk.Price < old.bestAsk.Price:
		askV = b.weightedAskDefault(d)
	case b.bestAsk.Price == old.bestAsk.Price:
		askV = b.weightedAskDefault(d) - old.weightedAskDefault(d)
	default:
		askV = 0
	}

	return bidV - askV
}

// PriceImpact sums the signed bid and ask volume deltas between this book
// and old. A side contributes its delta only when its best price improved
// (bid up, ask down) or its volume grew; otherwise it contributes 0. The two
// comparison arms historically reduce to the same subtraction regardless of
// branch taken; that duplication is preserved here rather than "fixed" into
// a differently-signed impact measure.
func (b *Book) PriceImpact(old *Book, d int) float64 {
	currBidVol := sumQty(bidsDescending(b.bids, d))
	oldBidVol := sumQty(bidsDescending(old.bids, d))
	currAskVol := sumQty(topN(b.asks, d))
	oldAskVol := sumQty(topN(old.asks, d))

	var bidImpact, askImpact float64
	if b.bestBid.Price > old.bestBid.Price || currBidVol > oldBidVol {
		bidImpact = currBidVol - oldBidVol
	}
	if b.bestAsk.Price < old.bestAsk.Price || currAskVol > oldAskVol {
		askImpact = currAskVol - oldAskVol
	}
	return bidImpact + askImpact
}

func sumQty(levels []PriceLevel) float64 {
	sum := 0.0
	for _, lvl := range levels {
		sum += lvl.Qty
	}
	return sum
}

// EffectiveSpread returns best_bid - mid for a buy, mid - best_ask for a
// sell.
func (b *Book) EffectiveSpread(isBuy bool) float64 {
	if isBuy {
		return b.bestBid.Price - b.midPrice
	}
	return b.midPrice - b.bestAsk.Price
}
