// Package wsfeed implements the streaming half of venueio.Client over a
// gorilla/websocket connection: market data (book snapshots/deltas, public
// trades) and the authenticated private stream (execution fills).
//
// A single Feed auto-reconnects with exponential backoff (1s to 30s) and
// re-subscribes to every tracked symbol on reconnection. A read deadline
// detects a silently dead connection within about two missed pings.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"derivmm/internal/book"
	"derivmm/internal/venueio"
)

const (
	pingInterval     = 20 * time.Second
	readTimeout      = 45 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 5 * time.Second
)

// Feed manages one WebSocket connection carrying either the public market
// channel or the authenticated private (execution) channel for a set of
// symbols.
type Feed struct {
	url      string
	private  bool
	signHook func() map[string]any // builds the auth payload for private feeds

	conn   *websocket.Conn
	connMu sync.Mutex

	subMu sync.RWMutex
	subs  map[string]bool

	marketSink  venueio.MarketSink
	privateSink venueio.PrivateSink

	logger *slog.Logger
}

// NewMarketFeed builds a Feed for the public market-data channel.
func NewMarketFeed(url string, sink venueio.MarketSink, logger *slog.Logger) *Feed {
	return &Feed{
		url:        url,
		subs:       make(map[string]bool),
		marketSink: sink,
		logger:     logger.With("component", "wsfeed_market"),
	}
}

// NewPrivateFeed builds a Feed for the authenticated execution channel.
// signHook returns the venue-specific authentication payload sent right
// after connecting.
func NewPrivateFeed(url string, signHook func() map[string]any, sink venueio.PrivateSink, logger *slog.Logger) *Feed {
	return &Feed{
		url:         url,
		private:     true,
		signHook:    signHook,
		subs:        make(map[string]bool),
		privateSink: sink,
		logger:      logger.With("component", "wsfeed_private"),
	}
}

// Subscribe tracks symbols for (re)subscription and sends the subscribe
// frame immediately if connected.
func (f *Feed) Subscribe(symbols []string) error {
	f.subMu.Lock()
	for _, s := range symbols {
		f.subs[s] = true
	}
	f.subMu.Unlock()
	return f.writeSubscribe(symbols)
}

// Run connects and maintains the connection with exponential backoff,
// re-subscribing to every tracked symbol after each reconnect. It blocks
// until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the underlying connection, if any.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if f.private && f.signHook != nil {
		if err := f.writeJSON(map[string]any{"op": "auth", "args": f.signHook()}); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	f.subMu.RLock()
	symbols := make([]string, 0, len(f.subs))
	for s := range f.subs {
		symbols = append(symbols, s)
	}
	f.subMu.RUnlock()
	if len(symbols) > 0 {
		if err := f.writeSubscribe(symbols); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	f.logger.Info("websocket connected", "symbols", symbols)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *Feed) writeSubscribe(symbols []string) error {
	channel := "publicTrade"
	if f.private {
		channel = "execution"
	}
	topics := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		topics = append(topics, "orderbook."+s, channel+"."+s)
	}
	return f.writeJSON(map[string]any{"op": "subscribe", "args": topics})
}

// wireFrame is the envelope every inbound message is peeked through to
// route by topic before unmarshalling the typed payload.
type wireFrame struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // "snapshot" or "delta"
	TS    uint64          `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type wireLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type wireBook struct {
	Symbol string      `json:"s"`
	Bids   []wireLevel `json:"b"`
	Asks   []wireLevel `json:"a"`
	Seq    uint64      `json:"seq"`
}

type wireTrade struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"v"`
	Side   string `json:"S"`
}

type wireExecution struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"orderId"`
	Side    string `json:"side"`
	ExecQty string `json:"execQty"`
	Price   string `json:"execPrice"`
}

func (f *Feed) dispatch(raw []byte) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		f.logger.Debug("ignoring non-json frame", "data", string(raw))
		return
	}
	if frame.Topic == "" {
		return // ping/pong/ack acknowledgements carry no topic
	}

	switch {
	case !f.private && startsWith(frame.Topic, "orderbook."):
		f.dispatchBook(frame)
	case !f.private && startsWith(frame.Topic, "publicTrade."):
		f.dispatchTrade(frame)
	case f.private && startsWith(frame.Topic, "execution."):
		f.dispatchExecution(frame)
	default:
		f.logger.Debug("unhandled topic", "topic", frame.Topic)
	}
}

func (f *Feed) dispatchBook(frame wireFrame) {
	if f.marketSink == nil {
		return
	}
	var wb wireBook
	if err := json.Unmarshal(frame.Data, &wb); err != nil {
		f.logger.Error("unmarshal book frame", "error", err)
		return
	}

	kind := venueio.FrameTopDelta
	if frame.Type == "snapshot" {
		kind = venueio.FrameSnapshot
	}

	f.marketSink.OnMarketFrame(venueio.MarketFrame{
		Timestamp: frame.TS,
		Symbol:    wb.Symbol,
		Kind:      kind,
		Sequence:  wb.Seq,
		Bids:      toLevels(wb.Bids),
		Asks:      toLevels(wb.Asks),
	})
}

func (f *Feed) dispatchTrade(frame wireFrame) {
	if f.marketSink == nil {
		return
	}
	var trades []wireTrade
	if err := json.Unmarshal(frame.Data, &trades); err != nil {
		f.logger.Error("unmarshal trade frame", "error", err)
		return
	}
	for _, tr := range trades {
		f.marketSink.OnTradeFrame(venueio.TradeFrame{
			Timestamp: frame.TS,
			Symbol:    tr.Symbol,
			Price:     parseFloat(tr.Price),
			Qty:       parseFloat(tr.Qty),
			IsBuy:     tr.Side == "Buy",
		})
	}
}

func (f *Feed) dispatchExecution(frame wireFrame) {
	if f.privateSink == nil {
		return
	}
	var execs []wireExecution
	if err := json.Unmarshal(frame.Data, &execs); err != nil {
		f.logger.Error("unmarshal execution frame", "error", err)
		return
	}
	for _, ex := range execs {
		f.privateSink.OnExecutionFrame(venueio.ExecutionFrame{
			Timestamp: frame.TS,
			Symbol:    ex.Symbol,
			OrderID:   ex.OrderID,
			IsBuy:     ex.Side == "Buy",
			ExecQty:   parseFloat(ex.ExecQty),
			Price:     parseFloat(ex.Price),
		})
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]any{"op": "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func toLevels(in []wireLevel) []book.PriceLevel {
	out := make([]book.PriceLevel, len(in))
	for i, l := range in {
		out[i] = book.PriceLevel{Price: parseFloat(l.Price), Qty: parseFloat(l.Qty)}
	}
	return out
}

func parseFloat(s string) float64 {
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return x
}

func startsWith(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
