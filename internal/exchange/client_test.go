package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
)

func TestGetCurrentPrice_ParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"symbol": "BTCUSDT", "price": "65000.50"})
	}))
	defer server.Close()

	c := NewClient("key", "secret", server.URL, zerolog.Nop())
	price, err := c.GetCurrentPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 65000.50 {
		t.Fatalf("expected 65000.50, got %v", price)
	}
}

func TestSignedRequest_SignatureMatchesSentQuery(t *testing.T) {
	var capturedQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol": "BTCUSDT", "orderId": 1, "clientOrderId": "x",
			"transactTime": 0, "price": "0", "origQty": "0",
			"executedQty": "0", "cummulativeQuoteQty": "0",
			"status": "NEW", "type": "LIMIT", "side": "BUY",
		})
	}))
	defer server.Close()

	c := NewClient("key", "secret", server.URL, zerolog.Nop())
	_, err := c.PlaceLimitOrder(context.Background(), "BTCUSDT", "BUY", 0.01, 65000, "client-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sentParams := url.Values{}
	for k, v := range capturedQuery {
		if k == "signature" {
			continue
		}
		sentParams[k] = v
	}
	expectedSig := c.sign(sentParams.Encode())
	if capturedQuery.Get("signature") != expectedSig {
		t.Fatalf("signature does not match the exact query string that was sent")
	}
}

func TestTryAcquire_RateLimiterBlocksExcessOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol": "BTCUSDT", "orderId": 1, "clientOrderId": "x",
			"transactTime": 0, "price": "0", "origQty": "0",
			"executedQty": "0", "cummulativeQuoteQty": "0",
			"status": "NEW", "type": "LIMIT", "side": "BUY",
		})
	}))
	defer server.Close()

	c := NewClient("key", "secret", server.URL, zerolog.Nop())
	for i := 0; i < 10; i++ {
		if _, err := c.PlaceLimitOrder(context.Background(), "BTCUSDT", "BUY", 0.01, 65000, ""); err != nil {
			t.Fatalf("order %d unexpectedly rate limited: %v", i, err)
		}
	}

	_, err := c.PlaceLimitOrder(context.Background(), "BTCUSDT", "BUY", 0.01, 65000, "")
	if err == nil {
		t.Fatalf("expected 11th order within 10s to be rejected by the rate limiter")
	}
	if _, ok := err.(*ErrRateLimited); !ok {
		t.Fatalf("expected *ErrRateLimited, got %T: %v", err, err)
	}
}
