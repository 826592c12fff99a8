// Package venueio defines the venue collaborator contract the core depends
// on (market/private streams, order placement) plus the wire-level frame
// types that venue adapters normalize their payloads into. Concrete
// adapters live in the rest and wsfeed subpackages; everything here is a
// contract, not an implementation.
package venueio

import (
	"context"

	"derivmm/internal/book"
)

// FrameKind tags the shape of an incoming MarketFrame.
type FrameKind int

const (
	// FrameSnapshot is a full-book replacement.
	FrameSnapshot FrameKind = iota
	// FrameTopDelta is a sequenced top-of-book delta.
	FrameTopDelta
	// FrameDepthDelta is an unsequenced depth delta.
	FrameDepthDelta
)

// MarketFrame is the venue-neutral shape every market-data adapter
// normalizes Bybit/Binance payloads into.
type MarketFrame struct {
	Timestamp   uint64
	Symbol      string
	Kind        FrameKind
	Sequence    uint64
	DepthLevels int
	Bids, Asks  []book.PriceLevel
}

// TradeFrame is a single public trade print.
type TradeFrame struct {
	Timestamp uint64
	Symbol    string
	Price     float64
	Qty       float64
	IsBuy     bool
}

// ExecutionFrame is a private-stream fill event.
type ExecutionFrame struct {
	Timestamp uint64
	Symbol    string
	OrderID   string
	IsBuy     bool
	ExecQty   float64
	Price     float64
}

// LiveOrder mirrors quote.LiveOrder at the venue boundary, before the core
// domain type is constructed from it.
type LiveOrder struct {
	OrderID string
	Price   float64
	Qty     float64
}

// BatchOrderRequest is an outbound order placement instruction.
type BatchOrderRequest struct {
	Symbol string
	Price  float64
	Qty    float64
	IsBuy  bool
}

// BatchAmendRequest is an outbound order amendment instruction.
type BatchAmendRequest struct {
	Symbol  string
	Price   float64
	Qty     float64
	OrderID string
}

// CancelledOrder identifies one order a cancel-all call removed.
type CancelledOrder struct {
	OrderID string
}

// SymbolInfo carries the immutable market parameters a venue reports for a
// symbol.
type SymbolInfo struct {
	TickSize    float64
	LotSize     float64
	MinNotional float64
	MinQty      float64
	PostOnlyMax float64
}

// MarketSink receives normalized market and trade frames.
type MarketSink interface {
	OnMarketFrame(MarketFrame)
	OnTradeFrame(TradeFrame)
}

// PrivateSink receives normalized private-stream frames.
type PrivateSink interface {
	OnExecutionFrame(ExecutionFrame)
}

// Client is the full venue collaborator contract: the core depends on this
// interface, never on a concrete REST/WS implementation.
type Client interface {
	MarketSubscribe(ctx context.Context, symbols []string, sink MarketSink) error
	PrivateSubscribe(ctx context.Context, symbol string, sink PrivateSink) error

	PlaceOrder(ctx context.Context, symbol string, price, qty float64, isBuy bool) (LiveOrder, error)
	AmendOrder(ctx context.Context, orderID, symbol string, price, qty float64) (LiveOrder, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	CancelAllOrders(ctx context.Context, symbol string) ([]CancelledOrder, error)
	BatchOrders(ctx context.Context, requests []BatchOrderRequest) (buys, sells []LiveOrder, err error)
	BatchAmends(ctx context.Context, requests []BatchAmendRequest) ([]LiveOrder, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
}
