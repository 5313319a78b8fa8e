package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"spotcore/internal/exchange"
	"spotcore/internal/position"
)

func newTestReconciler(t *testing.T, handler http.HandlerFunc) (*Reconciler, *position.Manager) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := zerolog.Nop()
	client := exchange.NewClient("key", "secret", server.URL, log)
	positions := position.NewManager(log, nil)
	return NewReconciler(client, positions, nil, log), positions
}

func TestTick_ReportsExchangeOrderWithoutLocalPosition(t *testing.T) {
	r, _ := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"symbol": "BTCUSDT", "orderId": 7, "clientOrderId": "x",
				"price": "65000", "origQty": "0.1", "executedQty": "0",
				"cummulativeQuoteQty": "0", "status": "NEW", "type": "LIMIT", "side": "BUY"},
		})
	})

	r.Tick(context.Background())

	snap := r.Snapshot()
	if snap.LastError != "" {
		t.Fatalf("unexpected error: %s", snap.LastError)
	}
	if snap.DriftCount != 1 {
		t.Fatalf("expected one drift entry, got %d: %v", snap.DriftCount, snap.Drift)
	}
}

func TestTick_NoDriftWhenBooksAgree(t *testing.T) {
	r, positions := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"symbol": "BTCUSDT", "orderId": 7, "clientOrderId": "x",
				"price": "65000", "origQty": "0.1", "executedQty": "0",
				"cummulativeQuoteQty": "0", "status": "NEW", "type": "LIMIT", "side": "BUY"},
		})
	})
	positions.OpenPosition("BTCUSDT", "BUY", 65000, 0.1, 64000, 66000, 67000)

	r.Tick(context.Background())

	snap := r.Snapshot()
	if snap.DriftCount != 0 {
		t.Fatalf("expected no drift, got %v", snap.Drift)
	}
}

func TestTick_StoresTransportErrorAndClearsOnSuccess(t *testing.T) {
	fail := true
	r, _ := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	})

	r.Tick(context.Background())
	if r.Snapshot().LastError == "" {
		t.Fatal("expected transport error to be stored")
	}

	fail = false
	r.Tick(context.Background())
	if got := r.Snapshot().LastError; got != "" {
		t.Fatalf("expected error cleared on success, got %q", got)
	}
}

func TestTick_SkipsWhenDisabled(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		called = true
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	}))
	t.Cleanup(server.Close)

	log := zerolog.Nop()
	client := exchange.NewClient("key", "secret", server.URL, log)
	positions := position.NewManager(log, nil)
	r := NewReconciler(client, positions, func() bool { return false }, log)

	r.Tick(context.Background())
	if called {
		t.Fatal("expected disabled reconciler to skip the exchange round-trip")
	}
}
