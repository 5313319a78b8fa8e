package execution

import (
	"testing"
	"time"
)

func TestMicroTrail_CVDDivergenceTightensDistance(t *testing.T) {
	t0 := time.Unix(0, 0)

	neutral := NewMicroTrail("BUY", 100, 102, 0.5)
	neutral.Update(101.0, t0, Context{CVD: 100, CVDAtEntry: 100, Imbalance: 0, VPIN: 0.3, VPINOK: true})
	neutralDist := 101.0 - neutral.TrailPrice

	diverging := NewMicroTrail("BUY", 100, 102, 0.5)
	diverging.Update(101.0, t0, Context{CVD: 50, CVDAtEntry: 100, Imbalance: 0, VPIN: 0.3, VPINOK: true})
	divergingDist := 101.0 - diverging.TrailPrice

	if !(divergingDist < neutralDist) {
		t.Fatalf("expected CVD-diverging trail distance %v to be tighter than neutral %v", divergingDist, neutralDist)
	}

	// multiplier product for this scenario is exactly 0.70 (only CVD
	// diverges; imbalance is neutral and VPIN 0.3 is below the toxic
	// threshold)
	wantRatio := 0.70
	gotRatio := divergingDist / neutralDist
	if diff := gotRatio - wantRatio; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected distance ratio %v, got %v", wantRatio, gotRatio)
	}
}

func TestMicroTrail_RatchetsMonotonicallyTowardFavourable(t *testing.T) {
	mt := NewMicroTrail("BUY", 100, 102, 0.5)
	t0 := time.Unix(0, 0)
	prevTrail := mt.TrailPrice
	prevBest := mt.BestFavourable

	prices := []float64{100.5, 101.0, 100.8, 101.5, 101.2}
	for i, p := range prices {
		mt.Update(p, t0.Add(time.Duration(i)*time.Second), Context{CVD: 100, CVDAtEntry: 100})
		if mt.BestFavourable < prevBest {
			t.Fatalf("best favourable regressed: %v < %v", mt.BestFavourable, prevBest)
		}
		if mt.TrailPrice < prevTrail {
			t.Fatalf("trail price regressed: %v < %v", mt.TrailPrice, prevTrail)
		}
		prevBest = mt.BestFavourable
		prevTrail = mt.TrailPrice
	}
}

func TestMicroTrail_HitWhenPriceCrossesAdverse(t *testing.T) {
	mt := NewMicroTrail("BUY", 100, 102, 0.5)
	t0 := time.Unix(0, 0)
	mt.Update(101.5, t0, Context{CVD: 100, CVDAtEntry: 100})

	reason := mt.Update(mt.TrailPrice-0.01, t0.Add(time.Second), Context{CVD: 100, CVDAtEntry: 100})
	if reason == "" {
		t.Fatal("expected a non-empty exit reason once price crosses the trail")
	}
}

func TestMicroTrail_PhaseSelection(t *testing.T) {
	mt := NewMicroTrail("BUY", 100, 102, 0.5) // tp1 distance = 2
	t0 := time.Unix(0, 0)

	mt.Update(100.3, t0, Context{}) // 15% progress -> Loose
	if mt.Phase != PhaseLoose {
		t.Fatalf("expected Loose, got %v", mt.Phase)
	}

	mt.Update(100.9, t0.Add(time.Second), Context{}) // 45% progress -> Standard
	if mt.Phase != PhaseStandard {
		t.Fatalf("expected Standard, got %v", mt.Phase)
	}

	mt.Update(101.3, t0.Add(2*time.Second), Context{}) // 65% progress -> Aggressive
	if mt.Phase != PhaseAggressive {
		t.Fatalf("expected Aggressive, got %v", mt.Phase)
	}
}
