package rest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"derivmm/internal/quote"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSignerProducesStableHeadersShape(t *testing.T) {
	t.Parallel()
	s := NewSigner("key123", "secret456")
	headers := s.Sign(`{"symbol":"BTCUSDT"}`)

	for _, k := range []string{"X-API-KEY", "X-TIMESTAMP", "X-RECV-WINDOW", "X-SIGNATURE"} {
		if headers[k] == "" {
			t.Errorf("missing header %s", k)
		}
	}
	if headers["X-API-KEY"] != "key123" {
		t.Errorf("X-API-KEY = %v, want key123", headers["X-API-KEY"])
	}
}

func TestSignerSignatureChangesWithPayload(t *testing.T) {
	t.Parallel()
	s := NewSigner("key", "secret")
	a := s.Sign("payload-a")
	b := s.Sign("payload-b")
	if a["X-SIGNATURE"] == b["X-SIGNATURE"] {
		t.Error("signature did not change with payload")
	}
}

func TestTokenBucketStartsFull(t *testing.T) {
	t.Parallel()
	b := NewTokenBucket(2, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := b.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
}

func TestTokenBucketBlocksWhenExhausted(t *testing.T) {
	t.Parallel()
	b := NewTokenBucket(1, 1000) // fast refill so the test stays quick
	ctx := context.Background()
	b.Wait(ctx)

	deadline, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := b.Wait(deadline); err != nil || time.Since(start) < 500*time.Microsecond {
		t.Error("wait returned immediately on an exhausted bucket")
	}
}

func TestQuoteVenueAdapterDryRunPlacesOrders(t *testing.T) {
	t.Parallel()
	client := New(Config{BaseURL: "https://example.invalid", DryRun: true}, testLogger())
	adapter := NewQuoteVenue(client)

	buys, sells, err := adapter.BatchOrders(context.Background(), []quote.BatchOrder{
		{Symbol: "BTCUSDT", Price: 100, Qty: 1, IsBuy: true},
		{Symbol: "BTCUSDT", Price: 101, Qty: 1, IsBuy: false},
	})
	if err != nil {
		t.Fatalf("BatchOrders error: %v", err)
	}
	if len(buys) != 1 || len(sells) != 1 {
		t.Errorf("buys=%d sells=%d, want 1 and 1", len(buys), len(sells))
	}
}

func TestQuoteVenueAdapterDryRunCancelAll(t *testing.T) {
	t.Parallel()
	client := New(Config{BaseURL: "https://example.invalid", DryRun: true}, testLogger())
	adapter := NewQuoteVenue(client)

	ids, err := adapter.CancelAll(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("CancelAll error: %v", err)
	}
	if ids != nil {
		t.Errorf("expected no cancelled ids in dry-run, got %v", ids)
	}
}
