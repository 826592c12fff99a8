// Package rest implements venueio.Client over a venue's HMAC-authenticated
// REST API (Bybit/Binance-style perpetual futures endpoints). It wraps a
// resty client with per-category rate limiting, a circuit breaker around
// the underlying transport, and shopspring/decimal for exact amount and
// price formatting on the wire.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"derivmm/internal/venueio"
)

// Client is a REST venueio.Client implementation.
type Client struct {
	http   *resty.Client
	signer *Signer
	rl     *RateLimiter
	cb     *gobreaker.CircuitBreaker[*resty.Response]
	dryRun bool
	logger *slog.Logger
}

// Config holds the parameters needed to build a Client for one account.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	DryRun    bool
}

// New builds a REST client against baseURL, signing private requests with
// the given API key pair.
func New(cfg Config, logger *slog.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	cbSettings := gobreaker.Settings{
		Name:        "venue-rest",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		http:   http,
		signer: NewSigner(cfg.APIKey, cfg.APISecret),
		rl:     NewRateLimiter(),
		cb:     gobreaker.NewCircuitBreaker[*resty.Response](cbSettings),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "venueio_rest"),
	}
}

// do runs req through the circuit breaker, tripping it on transport errors
// or 5xx responses the retry policy has already exhausted.
func (c *Client) do(req func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := c.cb.Execute(func() (*resty.Response, error) {
		r, err := req()
		if err != nil {
			return nil, err
		}
		if r.StatusCode() >= 500 {
			return r, fmt.Errorf("venue returned %d", r.StatusCode())
		}
		return r, nil
	})
	if err != nil {
		return resp, err
	}
	if resp.StatusCode() >= 400 {
		return resp, fmt.Errorf("venue error %d: %s", resp.StatusCode(), resp.String())
	}
	return resp, nil
}

func fmtPrice(x float64) string {
	return decimal.NewFromFloat(x).String()
}

// PlaceOrder submits a single post-only limit order.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, price, qty float64, isBuy bool) (venueio.LiveOrder, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "symbol", symbol, "price", price, "qty", qty, "buy", isBuy)
		return venueio.LiveOrder{OrderID: "dry-run", Price: price, Qty: qty}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return venueio.LiveOrder{}, err
	}

	side := "Sell"
	if isBuy {
		side = "Buy"
	}
	body := map[string]any{
		"symbol":   symbol,
		"side":     side,
		"orderType": "Limit",
		"price":    fmtPrice(price),
		"qty":      fmtPrice(qty),
		"timeInForce": "PostOnly",
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	_, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.signer.Sign("")).
			SetBody(body).
			SetResult(&result).
			Post("/v5/order/create")
	})
	if err != nil {
		return venueio.LiveOrder{}, fmt.Errorf("place order: %w", err)
	}
	return venueio.LiveOrder{OrderID: result.OrderID, Price: price, Qty: qty}, nil
}

// AmendOrder changes the price/qty of a resting order.
func (c *Client) AmendOrder(ctx context.Context, orderID, symbol string, price, qty float64) (venueio.LiveOrder, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would amend order", "order_id", orderID, "price", price, "qty", qty)
		return venueio.LiveOrder{OrderID: orderID, Price: price, Qty: qty}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return venueio.LiveOrder{}, err
	}

	body := map[string]any{
		"symbol":  symbol,
		"orderId": orderID,
		"price":   fmtPrice(price),
		"qty":     fmtPrice(qty),
	}
	_, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.signer.Sign("")).
			SetBody(body).
			Post("/v5/order/amend")
	})
	if err != nil {
		return venueio.LiveOrder{}, fmt.Errorf("amend order: %w", err)
	}
	return venueio.LiveOrder{OrderID: orderID, Price: price, Qty: qty}, nil
}

// CancelOrder cancels a single resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := map[string]any{"symbol": symbol, "orderId": orderID}
	_, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.signer.Sign("")).
			SetBody(body).
			Post("/v5/order/cancel")
	})
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// CancelAllOrders cancels every resting order on symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) ([]venueio.CancelledOrder, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "symbol", symbol)
		return nil, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			OrderID string `json:"orderId"`
		} `json:"list"`
	}
	_, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.signer.Sign("")).
			SetBody(map[string]any{"symbol": symbol}).
			SetResult(&result).
			Post("/v5/order/cancel-all")
	})
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}

	cancelled := make([]venueio.CancelledOrder, 0, len(result.List))
	for _, o := range result.List {
		cancelled = append(cancelled, venueio.CancelledOrder{OrderID: o.OrderID})
	}
	return cancelled, nil
}

// BatchOrders places up to 20 orders in a single request, splitting the
// result back into buy/sell LiveOrder lists per quote.Venue's contract.
func (c *Client) BatchOrders(ctx context.Context, requests []venueio.BatchOrderRequest) (buys, sells []venueio.LiveOrder, err error) {
	if len(requests) == 0 {
		return nil, nil, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would batch place orders", "count", len(requests))
		for i, r := range requests {
			lo := venueio.LiveOrder{OrderID: fmt.Sprintf("dry-run-%d", i), Price: r.Price, Qty: r.Qty}
			if r.IsBuy {
				buys = append(buys, lo)
			} else {
				sells = append(sells, lo)
			}
		}
		return buys, sells, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, nil, err
	}

	items := make([]map[string]any, 0, len(requests))
	for _, r := range requests {
		side := "Sell"
		if r.IsBuy {
			side = "Buy"
		}
		items = append(items, map[string]any{
			"symbol":      r.Symbol,
			"side":        side,
			"orderType":   "Limit",
			"price":       fmtPrice(r.Price),
			"qty":         fmtPrice(r.Qty),
			"timeInForce": "PostOnly",
		})
	}

	var result struct {
		List []struct {
			OrderID string `json:"orderId"`
		} `json:"list"`
	}
	_, err = c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.signer.Sign("")).
			SetBody(map[string]any{"request": items}).
			SetResult(&result).
			Post("/v5/order/create-batch")
	})
	if err != nil {
		return nil, nil, fmt.Errorf("batch orders: %w", err)
	}

	for i, o := range result.List {
		if i >= len(requests) {
			break
		}
		lo := venueio.LiveOrder{OrderID: o.OrderID, Price: requests[i].Price, Qty: requests[i].Qty}
		if requests[i].IsBuy {
			buys = append(buys, lo)
		} else {
			sells = append(sells, lo)
		}
	}
	return buys, sells, nil
}

// BatchAmends amends up to 20 orders in a single request.
func (c *Client) BatchAmends(ctx context.Context, requests []venueio.BatchAmendRequest) ([]venueio.LiveOrder, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would batch amend orders", "count", len(requests))
		out := make([]venueio.LiveOrder, len(requests))
		for i, r := range requests {
			out[i] = venueio.LiveOrder{OrderID: r.OrderID, Price: r.Price, Qty: r.Qty}
		}
		return out, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(requests))
	for _, r := range requests {
		items = append(items, map[string]any{
			"symbol":  r.Symbol,
			"orderId": r.OrderID,
			"price":   fmtPrice(r.Price),
			"qty":     fmtPrice(r.Qty),
		})
	}

	_, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.signer.Sign("")).
			SetBody(map[string]any{"request": items}).
			Post("/v5/order/amend-batch")
	})
	if err != nil {
		return nil, fmt.Errorf("batch amends: %w", err)
	}

	out := make([]venueio.LiveOrder, len(requests))
	for i, r := range requests {
		out[i] = venueio.LiveOrder{OrderID: r.OrderID, Price: r.Price, Qty: r.Qty}
	}
	return out, nil
}

// GetSymbolInfo fetches the venue's instrument filters for symbol.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (venueio.SymbolInfo, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return venueio.SymbolInfo{}, err
	}

	var result struct {
		List []struct {
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
				MaxOrderQty string `json:"maxOrderQty"`
			} `json:"lotSizeFilter"`
			MinNotional string `json:"minNotionalValue"`
		} `json:"list"`
	}
	_, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol).
			SetResult(&result).
			Get("/v5/market/instruments-info")
	})
	if err != nil {
		return venueio.SymbolInfo{}, fmt.Errorf("get symbol info: %w", err)
	}
	if len(result.List) == 0 {
		return venueio.SymbolInfo{}, fmt.Errorf("get symbol info: no instrument returned for %s", symbol)
	}

	inst := result.List[0]
	parse := func(s string) float64 {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0
		}
		return d.InexactFloat64()
	}
	return venueio.SymbolInfo{
		TickSize:    parse(inst.PriceFilter.TickSize),
		LotSize:     parse(inst.LotSizeFilter.QtyStep),
		MinNotional: parse(inst.MinNotional),
		MinQty:      parse(inst.LotSizeFilter.MinOrderQty),
		PostOnlyMax: parse(inst.LotSizeFilter.MaxOrderQty),
	}, nil
}

// SetLeverage configures the account's leverage multiplier for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would set leverage", "symbol", symbol, "leverage", leverage)
		return nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	lev := decimal.NewFromFloat(leverage).String()
	body := map[string]any{
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	_, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeaders(c.signer.Sign("")).
			SetBody(body).
			Post("/v5/position/set-leverage")
	})
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	return nil
}

// MarketSubscribe and PrivateSubscribe are not implemented over REST; the
// wsfeed package handles streaming. They exist so *Client still satisfies
// venueio.Client when composed by a higher-level adapter that delegates
// streaming elsewhere.
func (c *Client) MarketSubscribe(ctx context.Context, symbols []string, sink venueio.MarketSink) error {
	return fmt.Errorf("rest.Client does not support streaming, use wsfeed")
}

func (c *Client) PrivateSubscribe(ctx context.Context, symbol string, sink venueio.PrivateSink) error {
	return fmt.Errorf("rest.Client does not support streaming, use wsfeed")
}
