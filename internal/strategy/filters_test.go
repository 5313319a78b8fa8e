package strategy

import (
	"testing"

	"spotcore/internal/regime"
)

func allFiltersConfig() FilterConfig {
	return FilterConfig{
		EnableHTFGate:           true,
		EnableScoreMomentum:     true,
		EnableOFIP:              true,
		EnableAdaptiveThreshold: true,
		EnableCUSUM:             true,
		EnableAbsorption:        true,
		EnableEntropyValley:     true,
	}
}

func baseFilterInputs() FilterInputs {
	return FilterInputs{
		Direction:      1,
		Score:          0.25,
		Regime:         regime.Trending,
		HasHTFData:     true,
		EMA9_15m:       101,
		EMA21_15m:      100,
		EMA9_1h:        101,
		EMA21_1h:       100,
		BuyVolumeRatio: 0.6,
		Entropy:        0.8,
	}
}

func TestRunFilters_AllPassWithNoToggledBlockers(t *testing.T) {
	result := RunFilters(allFiltersConfig(), baseFilterInputs())
	if !result.Pass {
		t.Fatalf("expected a clean pass, got blocking filter %q: %s", result.BlockingFilter, result.Reason)
	}
	if result.ConfidenceMultiplier != 1.0 {
		t.Fatalf("expected confidence multiplier 1.0, got %v", result.ConfidenceMultiplier)
	}
}

func TestRunFilters_HTFGateBlocksOnDisagreement(t *testing.T) {
	in := baseFilterInputs()
	in.EMA9_15m, in.EMA21_15m = 99, 100 // bearish 15m vs a BUY candidate

	result := RunFilters(allFiltersConfig(), in)
	if result.Pass || result.BlockingFilter != "HTFGate" {
		t.Fatalf("expected HTFGate to block, got pass=%v filter=%q", result.Pass, result.BlockingFilter)
	}
}

func TestRunFilters_HTFGateSkippedWhenDisabled(t *testing.T) {
	cfg := allFiltersConfig()
	cfg.EnableHTFGate = false
	in := baseFilterInputs()
	in.EMA9_15m, in.EMA21_15m = 99, 100

	result := RunFilters(cfg, in)
	if !result.Pass {
		t.Fatalf("expected HTFGate to be skipped, got blocking filter %q", result.BlockingFilter)
	}
}

func TestRunFilters_ScoreMomentumBlocksBelowFloor(t *testing.T) {
	in := baseFilterInputs()
	in.Score = 0.05

	result := RunFilters(allFiltersConfig(), in)
	if result.Pass || result.BlockingFilter != "ScoreMomentum" {
		t.Fatalf("expected ScoreMomentum to block, got pass=%v filter=%q", result.Pass, result.BlockingFilter)
	}
}

func TestRunFilters_OFIPBlocksOnOpposingVolumeRatio(t *testing.T) {
	in := baseFilterInputs()
	in.BuyVolumeRatio = 0.3 // strongly sell-skewed, but direction is BUY

	result := RunFilters(allFiltersConfig(), in)
	if result.Pass || result.BlockingFilter != "OFIP" {
		t.Fatalf("expected OFIP to block, got pass=%v filter=%q", result.Pass, result.BlockingFilter)
	}
}

func TestRunFilters_AdaptiveThresholdUsesRegimeFloor(t *testing.T) {
	in := baseFilterInputs()
	in.Regime = regime.Volatile // floor 0.20
	in.Score = 0.18

	result := RunFilters(allFiltersConfig(), in)
	if result.Pass || result.BlockingFilter != "AdaptiveThreshold" {
		t.Fatalf("expected AdaptiveThreshold to block under the Volatile floor, got pass=%v filter=%q", result.Pass, result.BlockingFilter)
	}
}

func TestRunFilters_DeadRegimeFloorIsUnreachable(t *testing.T) {
	in := baseFilterInputs()
	in.Regime = regime.Dead
	in.Score = 0.99

	result := RunFilters(allFiltersConfig(), in)
	if result.Pass || result.BlockingFilter != "AdaptiveThreshold" {
		t.Fatalf("expected AdaptiveThreshold to always block in the Dead regime, got pass=%v filter=%q", result.Pass, result.BlockingFilter)
	}
}

func TestRunFilters_EntropyValleyIsInformationalOnly(t *testing.T) {
	in := baseFilterInputs()
	in.Entropy = 0.1

	result := RunFilters(allFiltersConfig(), in)
	if !result.Pass {
		t.Fatalf("expected entropy valley to never block, got filter %q", result.BlockingFilter)
	}
	found := false
	for _, n := range result.Notes {
		if n == "entropy_valley" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected entropy_valley note, got notes %v", result.Notes)
	}
}

func TestDetectAbsorption_RequiresTwentyCandles(t *testing.T) {
	_, ok := DetectAbsorption(make([]AbsorptionCandle, 19))
	if ok {
		t.Fatalf("expected DetectAbsorption to report absent with fewer than 20 candles")
	}
}

func TestDetectAbsorption_DetectsBullishVolumeSpike(t *testing.T) {
	candles := make([]AbsorptionCandle, 20)
	for i := range candles {
		candles[i] = AbsorptionCandle{Open: 100, Close: 100.1, High: 100.5, Low: 99.5, Volume: 10}
	}
	last := len(candles) - 1
	candles[last] = AbsorptionCandle{Open: 100, Close: 100.2, High: 100.3, Low: 99.9, Volume: 30, CVDDirection: 1}

	result, ok := DetectAbsorption(candles)
	if !ok {
		t.Fatalf("expected absorption detector to run with 20 candles")
	}
	if !result.Detected || result.Direction != "BULLISH" {
		t.Fatalf("expected a detected bullish absorption event, got %+v", result)
	}
}

func TestDetectAbsorption_NoSpikeIsUndetected(t *testing.T) {
	candles := make([]AbsorptionCandle, 20)
	for i := range candles {
		candles[i] = AbsorptionCandle{Open: 100, Close: 100.1, High: 100.5, Low: 99.5, Volume: 10}
	}

	result, ok := DetectAbsorption(candles)
	if !ok {
		t.Fatalf("expected absorption detector to run with 20 candles")
	}
	if result.Detected {
		t.Fatalf("expected no absorption event without a volume spike, got %+v", result)
	}
}
