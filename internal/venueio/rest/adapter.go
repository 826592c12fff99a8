package rest

import (
	"context"

	"derivmm/internal/quote"
	"derivmm/internal/venueio"
)

// QuoteVenue adapts a *Client to quote.Venue, translating between the
// venue-neutral frame types and quote's own domain types at the boundary.
type QuoteVenue struct {
	client *Client
}

// NewQuoteVenue wraps client for use as a quote.Generator's Venue.
func NewQuoteVenue(client *Client) *QuoteVenue {
	return &QuoteVenue{client: client}
}

// BatchOrders implements quote.Venue.
func (q *QuoteVenue) BatchOrders(ctx context.Context, orders []quote.BatchOrder) ([]quote.LiveOrder, []quote.LiveOrder, error) {
	requests := make([]venueio.BatchOrderRequest, len(orders))
	for i, o := range orders {
		requests[i] = venueio.BatchOrderRequest{Symbol: o.Symbol, Price: o.Price, Qty: o.Qty, IsBuy: o.IsBuy}
	}

	buys, sells, err := q.client.BatchOrders(ctx, requests)
	if err != nil {
		return nil, nil, err
	}
	return toQuoteOrders(buys), toQuoteOrders(sells), nil
}

// CancelAll implements quote.Venue.
func (q *QuoteVenue) CancelAll(ctx context.Context, symbol string) ([]string, error) {
	cancelled, err := q.client.CancelAllOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if cancelled == nil {
		return nil, nil
	}
	ids := make([]string, len(cancelled))
	for i, c := range cancelled {
		ids[i] = c.OrderID
	}
	return ids, nil
}

func toQuoteOrders(in []venueio.LiveOrder) []quote.LiveOrder {
	if in == nil {
		return nil
	}
	out := make([]quote.LiveOrder, len(in))
	for i, o := range in {
		out[i] = quote.LiveOrder{OrderID: o.OrderID, Price: o.Price, Qty: o.Qty}
	}
	return out
}
