package dashboard

import (
	"time"

	"derivmm/internal/guardrail"
)

// SymbolStatus is one traded symbol's state as shown on the dashboard.
type SymbolStatus struct {
	Symbol    string               `json:"symbol"`
	BestBid   float64              `json:"best_bid"`
	BestAsk   float64              `json:"best_ask"`
	MidPrice  float64              `json:"mid_price"`
	Features  FeatureSnapshotEvent `json:"features"`
	Quotes    QuoteGridEvent       `json:"quotes"`
}

// Provider supplies the state BuildSnapshot aggregates into a Snapshot. The
// engine implements it by delegating to each symbol's Maker.
type Provider interface {
	SymbolStatuses() []SymbolStatus
	GuardrailSnapshot() guardrail.Snapshot
}

// Snapshot is the full dashboard payload served by /api/snapshot and sent
// to every newly-connected WebSocket client.
type Snapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Symbols   []SymbolStatus    `json:"symbols"`
	Guardrail guardrail.Snapshot `json:"guardrail"`
}

// BuildSnapshot aggregates state from the provider into a dashboard
// snapshot.
func BuildSnapshot(provider Provider) Snapshot {
	return Snapshot{
		Timestamp: time.Now(),
		Symbols:   provider.SymbolStatuses(),
		Guardrail: provider.GuardrailSnapshot(),
	}
}
