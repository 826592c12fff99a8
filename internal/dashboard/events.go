package dashboard

import "time"

// Event wraps every payload broadcast to dashboard WebSocket clients.
type Event struct {
	Type      string `json:"type"` // "snapshot", "features", "quote", "fill", "kill"
	Timestamp time.Time `json:"timestamp"`
	Symbol    string `json:"symbol"` // empty for portfolio-wide events
	Data      any    `json:"data"`
}

// FeatureSnapshotEvent mirrors features.Snapshot for dashboard consumption.
type FeatureSnapshotEvent struct {
	BBAImbalance   float64 `json:"bba_imbalance"`
	VOI            float64 `json:"voi"`
	OFI            float64 `json:"ofi"`
	TradeImbalance float64 `json:"trade_imbalance"`
	Volatility     float64 `json:"volatility"`
	Skew           float64 `json:"skew"`
	AvgTradePrice  float64 `json:"avg_trade_price"`
}

// QuoteGridEvent reports the current live order ladder for a symbol.
type QuoteGridEvent struct {
	PositionQty float64       `json:"position_qty"`
	LiveBuys    []OrderSide   `json:"live_buys"`
	LiveSells   []OrderSide   `json:"live_sells"`
}

// OrderSide is one resting order.
type OrderSide struct {
	OrderID string  `json:"order_id"`
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
}

// FillEvent reports an execution applied to a symbol's position.
type FillEvent struct {
	OrderID string  `json:"order_id"`
	Side    string  `json:"side"` // "BUY" or "SELL"
	Price   float64 `json:"price"`
	Qty     float64 `json:"qty"`
}

// KillEvent reports the guardrail tripping.
type KillEvent struct {
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

// NewFillEvent builds a FillEvent from an execution.
func NewFillEvent(orderID string, isBuy bool, price, qty float64) FillEvent {
	side := "SELL"
	if isBuy {
		side = "BUY"
	}
	return FillEvent{OrderID: orderID, Side: side, Price: price, Qty: qty}
}
