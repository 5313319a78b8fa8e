package execution

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spotcore/internal/market"
	"spotcore/internal/position"
	"spotcore/internal/regime"
	"spotcore/internal/risk"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *position.Manager) {
	t.Helper()
	log := zerolog.Nop()
	posMgr := position.NewManager(log, nil)
	riskCfg := risk.Config{MaxDailyLossPct: 0.05, MaxConsecutiveLosses: 5, MaxDrawdownPct: 0.2, MaxDailyTrades: 50}
	riskEngine := risk.NewEngine(riskCfg, 10000)

	sup := NewSupervisor(log, posMgr, riskEngine, market.NewStore(), market.NewBookStore(), market.NewVPINStore(), true, func() float64 { return 10000 })
	return sup, posMgr
}

func TestSupervisor_RegisterAndTickClosesOnStopLoss(t *testing.T) {
	sup, posMgr := newTestSupervisor(t)

	id := posMgr.OpenPosition("BTCUSDT", "BUY", 100, 1, 99, 102, 104)
	opened := time.Unix(0, 0)
	sup.RegisterPosition(id, "BTCUSDT", "BUY", 100, 1, regime.Trending, 0, opened)

	if sup.StateVersion() == 0 {
		t.Fatal("expected state version to bump on register")
	}

	sup.tradeFlows.Get("BTCUSDT").ProcessTrade(98.5, 1, false)

	sup.Tick(opened.Add(10 * time.Second))

	if _, ok := posMgr.Get(id); ok {
		if p, _ := posMgr.Get(id); p.Status != position.Closed {
			t.Fatalf("expected position to be closed, got status %v", p.Status)
		}
	}

	sup.mu.Lock()
	_, stillRegistered := sup.regs[id]
	sup.mu.Unlock()
	if stillRegistered {
		t.Fatal("expected position to be unregistered after close")
	}
}

func TestSupervisor_TP1PartiallyClosesAndKeepsSupervising(t *testing.T) {
	sup, posMgr := newTestSupervisor(t)

	id := posMgr.OpenPosition("BTCUSDT", "BUY", 100, 1, 98.5, 102, 104)
	opened := time.Unix(0, 0)
	sup.RegisterPosition(id, "BTCUSDT", "BUY", 100, 1, regime.Trending, 0, opened)

	sup.tradeFlows.Get("BTCUSDT").ProcessTrade(102.1, 1, false)
	sup.Tick(opened.Add(10 * time.Second))

	p, ok := posMgr.Get(id)
	if !ok {
		t.Fatal("expected position to stay open after TP1")
	}
	if p.Status != position.PartialTP1 {
		t.Fatalf("expected PartialTP1 status, got %v", p.Status)
	}
	if diff := p.RemainingQty - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected 40%% remaining after TP1 partial, got %v", p.RemainingQty)
	}

	sup.mu.Lock()
	_, stillRegistered := sup.regs[id]
	sup.mu.Unlock()
	if !stillRegistered {
		t.Fatal("expected position to remain registered after TP1 partial close")
	}

	sup.tradeFlows.Get("BTCUSDT").ProcessTrade(104.1, 1, false)
	sup.Tick(opened.Add(20 * time.Second))

	if _, ok := posMgr.Get(id); ok {
		t.Fatal("expected position fully closed at TP2")
	}
	closed := posMgr.ClosedPositions(1)
	if len(closed) != 1 || closed[0].Position.CloseReason != "TakeProfit2" {
		t.Fatalf("expected TakeProfit2 close, got %+v", closed)
	}
}

func TestSupervisor_OnCloseHookFires(t *testing.T) {
	sup, posMgr := newTestSupervisor(t)

	var gotReason string
	sup.SetOnClose(func(positionID, symbol, side, reason string, closePrice, pnl float64) {
		gotReason = reason
	})

	id := posMgr.OpenPosition("BTCUSDT", "BUY", 100, 1, 99, 102, 104)
	opened := time.Unix(0, 0)
	sup.RegisterPosition(id, "BTCUSDT", "BUY", 100, 1, regime.Trending, 0, opened)

	sup.tradeFlows.Get("BTCUSDT").ProcessTrade(98.4, 1, true)
	sup.Tick(opened.Add(10 * time.Second))

	if gotReason != "StopLoss" {
		t.Fatalf("expected onClose with StopLoss, got %q", gotReason)
	}
}

func TestSupervisor_TickNoopWhenNoPriceData(t *testing.T) {
	sup, posMgr := newTestSupervisor(t)

	id := posMgr.OpenPosition("ETHUSDT", "BUY", 100, 1, 99, 102, 104)
	opened := time.Unix(0, 0)
	sup.RegisterPosition(id, "ETHUSDT", "BUY", 100, 1, regime.Ranging, 0, opened)

	sup.Tick(opened.Add(5 * time.Second))

	p, ok := posMgr.Get(id)
	if !ok || p.Status == position.Closed {
		t.Fatal("expected position to remain open with no trade data")
	}
}

func TestSupervisor_UnregisterPositionBumpsVersion(t *testing.T) {
	sup, posMgr := newTestSupervisor(t)
	id := posMgr.OpenPosition("BTCUSDT", "BUY", 100, 1, 99, 102, 104)
	sup.RegisterPosition(id, "BTCUSDT", "BUY", 100, 1, regime.Trending, 0, time.Unix(0, 0))

	before := sup.StateVersion()
	sup.UnregisterPosition(id)
	if sup.StateVersion() <= before {
		t.Fatal("expected state version to increase on unregister")
	}
}
