package position

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestManager() *Manager {
	return NewManager(zerolog.Nop(), nil)
}

func TestOpenPosition_TracksOpenCount(t *testing.T) {
	m := newTestManager()
	id := m.OpenPosition("BTCUSDT", "BUY", 100, 1, 96, 102, 104)
	if m.OpenPositionCount() != 1 {
		t.Fatalf("expected 1 open position, got %d", m.OpenPositionCount())
	}
	if !m.HasOpenPosition("BTCUSDT") {
		t.Fatal("expected HasOpenPosition to be true")
	}
	if _, ok := m.Get(id); !ok {
		t.Fatal("expected Get to find the newly opened position")
	}
}

func TestClosePosition_ComputesRealizedPnL(t *testing.T) {
	m := newTestManager()
	id := m.OpenPosition("BTCUSDT", "BUY", 100, 2, 96, 102, 104)
	m.UpdatePrice("BTCUSDT", 103)

	pnl, err := m.ClosePosition(id, "StopLoss", 103)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 1 * (103.0 - 100.0) * 2
	if pnl != want {
		t.Fatalf("expected pnl %v, got %v", want, pnl)
	}
	if m.OpenPositionCount() != 0 {
		t.Fatalf("expected 0 open after close, got %d", m.OpenPositionCount())
	}
	closed := m.ClosedPositions(0)
	if len(closed) != 1 || closed[0].Position.Status != Closed {
		t.Fatalf("expected one closed record with status Closed, got %+v", closed)
	}
}

func TestClosePosition_UnknownIDErrors(t *testing.T) {
	m := newTestManager()
	if _, err := m.ClosePosition("does-not-exist", "StopLoss", 100); err == nil {
		t.Fatal("expected error for unknown position id")
	}
}

func TestCheckExits_TP1PartialDoesNotEmitExit(t *testing.T) {
	m := newTestManager()
	id := m.OpenPosition("BTCUSDT", "BUY", 100, 10, 96, 102, 104)
	m.UpdatePrice("BTCUSDT", 102.5)

	exits := m.CheckExits()
	for _, e := range exits {
		if e.PositionID == id {
			t.Fatalf("TP1 hit should not appear in exits, got %+v", e)
		}
	}

	p, _ := m.Get(id)
	if p.Status != PartialTP1 {
		t.Fatalf("expected status PartialTP1, got %v", p.Status)
	}
	if p.RemainingQty != 4 { // 10 * (1 - 0.6)
		t.Fatalf("expected remaining qty 4, got %v", p.RemainingQty)
	}
}

func TestPartialCloseTP1_SplitsAndAccumulatesPnL(t *testing.T) {
	m := newTestManager()
	id := m.OpenPosition("BTCUSDT", "BUY", 100, 10, 96, 102, 104)

	pnl, err := m.PartialCloseTP1(id, 102)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 1 * (102.0 - 100.0) * 6 // 60% of quantity at +2
	if pnl != want {
		t.Fatalf("expected partial pnl %v, got %v", want, pnl)
	}

	p, _ := m.Get(id)
	if p.Status != PartialTP1 || p.RemainingQty != 4 {
		t.Fatalf("expected PartialTP1 with qty 4, got status=%v qty=%v", p.Status, p.RemainingQty)
	}

	// A second TP1 partial on the same position is rejected.
	if _, err := m.PartialCloseTP1(id, 103); err == nil {
		t.Fatal("expected error on repeated TP1 partial close")
	}

	// Final close realizes the remainder on top of the partial slice.
	total, err := m.ClosePosition(id, "TakeProfit2", 104)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantTotal := want + 1*(104.0-100.0)*4
	if total != wantTotal {
		t.Fatalf("expected total realized pnl %v, got %v", wantTotal, total)
	}
}

func TestCheckExits_StopLossTriggers(t *testing.T) {
	m := newTestManager()
	id := m.OpenPosition("BTCUSDT", "BUY", 100, 1, 96, 102, 104)
	m.UpdatePrice("BTCUSDT", 95)

	exits := m.CheckExits()
	found := false
	for _, e := range exits {
		if e.PositionID == id && e.Reason == "StopLoss" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected StopLoss exit, got %+v", exits)
	}
}
