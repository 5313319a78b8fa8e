package strategy

import (
	"fmt"

	"spotcore/internal/regime"
)

// TradingMode is the runtime-configuration trading mode.
type TradingMode string

const (
	ModeLive   TradingMode = "Live"
	ModePaused TradingMode = "Paused"
	ModeKilled TradingMode = "Killed"
)

const defaultMaxSpreadBps = 15.0

// GauntletInput carries everything the eight insurance gates need to
// evaluate. It is intentionally a flat value type rather than a set of
// live object references, so the gauntlet stays a pure, synchronous check.
type GauntletInput struct {
	Mode                     TradingMode
	RegimeLabel              regime.Label
	OpenPositionCount        int
	MaxConcurrentPositions   int
	HasOpenPositionForSymbol bool
	HasOrderBookData         bool
	SpreadBps                float64
	MaxSpreadBps             float64 // 0 uses the default of 15 bps
	RiskEngineAllows         bool
	RiskEngineReason         string
	GlobalNoGoReason         string
}

// RunGauntlet evaluates the eight ordered insurance gates. The first
// failure blocks with its reason; an empty blocking gate means all gates
// passed.
func RunGauntlet(in GauntletInput) (pass bool, blockingGate string, reason string) {
	maxSpread := in.MaxSpreadBps
	if maxSpread <= 0 {
		maxSpread = defaultMaxSpreadBps
	}

	gates := []struct {
		name string
		ok   bool
		why  string
	}{
		{"TradingModeKilled", in.Mode != ModeKilled, "trading mode is Killed"},
		{"TradingModePaused", in.Mode != ModePaused, "trading mode is Paused"},
		{"RegimeDead", in.RegimeLabel != regime.Dead, "regime is Dead"},
		{"MaxConcurrentPositions", in.OpenPositionCount < in.MaxConcurrentPositions,
			fmt.Sprintf("open positions %d >= max concurrent %d", in.OpenPositionCount, in.MaxConcurrentPositions)},
		{"ExistingPositionForSymbol", !in.HasOpenPositionForSymbol, "an open position already exists for this symbol"},
		{"SpreadTooWide", !in.HasOrderBookData || in.SpreadBps <= maxSpread,
			fmt.Sprintf("spread %.2f bps exceeds max %.2f bps", in.SpreadBps, maxSpread)},
		{"RiskEngineBlocked", in.RiskEngineAllows, in.RiskEngineReason},
		{"GlobalNoGo", in.GlobalNoGoReason == "", in.GlobalNoGoReason},
	}

	for _, g := range gates {
		if !g.ok {
			return false, g.name, g.why
		}
	}
	return true, "", ""
}
