package strategy

import (
	"testing"

	"spotcore/internal/regime"
)

func baseGauntletInput() GauntletInput {
	return GauntletInput{
		Mode:                   ModeLive,
		RegimeLabel:            regime.Trending,
		OpenPositionCount:      0,
		MaxConcurrentPositions: 3,
		HasOpenPositionForSymbol: false,
		HasOrderBookData:       true,
		SpreadBps:              5,
		MaxSpreadBps:           15,
		RiskEngineAllows:       true,
	}
}

func TestRunGauntlet_AllGatesPass(t *testing.T) {
	pass, gate, reason := RunGauntlet(baseGauntletInput())
	if !pass || gate != "" || reason != "" {
		t.Fatalf("expected a clean pass, got pass=%v gate=%q reason=%q", pass, gate, reason)
	}
}

func TestRunGauntlet_KilledModeBlocksFirst(t *testing.T) {
	in := baseGauntletInput()
	in.Mode = ModeKilled
	in.RegimeLabel = regime.Dead // would also fail gate 3, but gate 1 must win

	pass, gate, _ := RunGauntlet(in)
	if pass || gate != "TradingModeKilled" {
		t.Fatalf("expected TradingModeKilled to block first, got pass=%v gate=%q", pass, gate)
	}
}

func TestRunGauntlet_PausedModeBlocks(t *testing.T) {
	in := baseGauntletInput()
	in.Mode = ModePaused

	pass, gate, _ := RunGauntlet(in)
	if pass || gate != "TradingModePaused" {
		t.Fatalf("expected TradingModePaused to block, got pass=%v gate=%q", pass, gate)
	}
}

func TestRunGauntlet_DeadRegimeBlocks(t *testing.T) {
	in := baseGauntletInput()
	in.RegimeLabel = regime.Dead

	pass, gate, _ := RunGauntlet(in)
	if pass || gate != "RegimeDead" {
		t.Fatalf("expected RegimeDead to block, got pass=%v gate=%q", pass, gate)
	}
}

func TestRunGauntlet_MaxConcurrentPositionsBlocks(t *testing.T) {
	in := baseGauntletInput()
	in.OpenPositionCount = 3
	in.MaxConcurrentPositions = 3

	pass, gate, _ := RunGauntlet(in)
	if pass || gate != "MaxConcurrentPositions" {
		t.Fatalf("expected MaxConcurrentPositions to block, got pass=%v gate=%q", pass, gate)
	}
}

func TestRunGauntlet_ExistingPositionForSymbolBlocks(t *testing.T) {
	in := baseGauntletInput()
	in.HasOpenPositionForSymbol = true

	pass, gate, _ := RunGauntlet(in)
	if pass || gate != "ExistingPositionForSymbol" {
		t.Fatalf("expected ExistingPositionForSymbol to block, got pass=%v gate=%q", pass, gate)
	}
}

func TestRunGauntlet_SpreadTooWideBlocks(t *testing.T) {
	in := baseGauntletInput()
	in.SpreadBps = 20

	pass, gate, _ := RunGauntlet(in)
	if pass || gate != "SpreadTooWide" {
		t.Fatalf("expected SpreadTooWide to block, got pass=%v gate=%q", pass, gate)
	}
}

func TestRunGauntlet_SpreadCheckSkippedWithoutBookData(t *testing.T) {
	in := baseGauntletInput()
	in.SpreadBps = 20
	in.HasOrderBookData = false

	pass, _, _ := RunGauntlet(in)
	if !pass {
		t.Fatalf("expected spread gate to pass when no order book data is present")
	}
}

func TestRunGauntlet_DefaultMaxSpreadAppliesWhenUnset(t *testing.T) {
	in := baseGauntletInput()
	in.MaxSpreadBps = 0
	in.SpreadBps = 14

	pass, _, _ := RunGauntlet(in)
	if !pass {
		t.Fatalf("expected spread 14 bps to pass under the default 15 bps max")
	}

	in.SpreadBps = 16
	pass, gate, _ := RunGauntlet(in)
	if pass || gate != "SpreadTooWide" {
		t.Fatalf("expected spread 16 bps to fail under the default 15 bps max, got pass=%v gate=%q", pass, gate)
	}
}

func TestRunGauntlet_RiskEngineBlocks(t *testing.T) {
	in := baseGauntletInput()
	in.RiskEngineAllows = false
	in.RiskEngineReason = "daily loss limit hit"

	pass, gate, reason := RunGauntlet(in)
	if pass || gate != "RiskEngineBlocked" || reason != "daily loss limit hit" {
		t.Fatalf("expected RiskEngineBlocked with reason, got pass=%v gate=%q reason=%q", pass, gate, reason)
	}
}

func TestRunGauntlet_GlobalNoGoBlocksLast(t *testing.T) {
	in := baseGauntletInput()
	in.GlobalNoGoReason = "operator halt"

	pass, gate, reason := RunGauntlet(in)
	if pass || gate != "GlobalNoGo" || reason != "operator halt" {
		t.Fatalf("expected GlobalNoGo to block, got pass=%v gate=%q reason=%q", pass, gate, reason)
	}
}
