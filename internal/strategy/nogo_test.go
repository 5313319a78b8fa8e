package strategy

import "testing"

func TestNoGoFlag_SetClearRoundTrip(t *testing.T) {
	var f NoGoFlag
	if f.Reason() != "" {
		t.Fatalf("expected empty reason initially, got %q", f.Reason())
	}

	f.Set("exchange maintenance window")
	if f.Reason() != "exchange maintenance window" {
		t.Fatalf("expected set reason, got %q", f.Reason())
	}

	f.Clear()
	if f.Reason() != "" {
		t.Fatalf("expected cleared reason, got %q", f.Reason())
	}
}
