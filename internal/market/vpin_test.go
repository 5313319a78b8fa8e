package market

import "testing"

func TestVPINAbsentBeforeFirstBucket(t *testing.T) {
	v := NewVPINTracker(1000, 5)
	if _, ok := v.VPIN(); ok {
		t.Fatalf("expected no VPIN value before any bucket completes")
	}
}

func TestVPINAllBuyIsMaxToxicity(t *testing.T) {
	v := NewVPINTracker(100, 5)
	v.ProcessTrade(1, 100, false) // all buy, fills exactly one bucket

	got, ok := v.VPIN()
	if !ok {
		t.Fatalf("expected a completed bucket")
	}
	if got != 1.0 {
		t.Fatalf("expected VPIN 1.0 for all-buy bucket, got %v", got)
	}
}

func TestVPINBalancedFlowIsZero(t *testing.T) {
	v := NewVPINTracker(100, 5)
	v.ProcessTrade(1, 50, false)
	v.ProcessTrade(1, 50, true)

	got, ok := v.VPIN()
	if !ok {
		t.Fatalf("expected a completed bucket")
	}
	if got != 0 {
		t.Fatalf("expected VPIN 0 for balanced flow, got %v", got)
	}
}

func TestVPINSpansMultipleBuckets(t *testing.T) {
	v := NewVPINTracker(100, 5)
	// 250 notional of pure buy volume should complete 2 full buckets and
	// leave a partial third in progress.
	v.ProcessTrade(1, 250, false)

	got, ok := v.VPIN()
	if !ok || got != 1.0 {
		t.Fatalf("expected VPIN 1.0 across completed buckets, got %v ok=%v", got, ok)
	}
}
