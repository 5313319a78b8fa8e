package market

import (
	"testing"
	"time"
)

func mkCandle(open time.Time, closePx float64, closed bool) Candle {
	return Candle{
		OpenTime: open,
		Open:     closePx,
		High:     closePx,
		Low:      closePx,
		Close:    closePx,
		IsClosed: closed,
	}
}

func TestRingBufferTrimming(t *testing.T) {
	b := NewBuffer(3)
	key := Key{Symbol: "BTCUSDT", Interval: Interval1m}
	base := time.Unix(0, 0)

	for i := 0; i < 5; i++ {
		b.Update(key, mkCandle(base.Add(time.Duration(i)*time.Minute), float64(i), true))
	}

	closes := b.Closes(key, 0)
	if len(closes) != 3 {
		t.Fatalf("expected ring trimmed to capacity 3, got %d", len(closes))
	}
	if closes[0] != 2 || closes[2] != 4 {
		t.Fatalf("expected oldest-first [2,3,4], got %v", closes)
	}
}

func TestInProgressReplacement(t *testing.T) {
	b := NewBuffer(10)
	key := Key{Symbol: "ETHUSDT", Interval: Interval1m}
	t0 := time.Unix(0, 0)

	b.Update(key, mkCandle(t0, 100, false))
	if got := b.Count(key); got != 0 {
		t.Fatalf("unclosed candle should not count as closed, got %d", got)
	}

	// Closed twin at the same open time must replace, not append.
	b.Update(key, mkCandle(t0, 101, true))
	if got := b.Count(key); got != 1 {
		t.Fatalf("expected exactly one closed element for the slot, got %d", got)
	}
	if last, ok := b.LastClose(key); !ok || last != 101 {
		t.Fatalf("expected last close 101, got %v (ok=%v)", last, ok)
	}
}

func TestGetClosedFiltersOutInProgress(t *testing.T) {
	b := NewBuffer(10)
	key := Key{Symbol: "BTCUSDT", Interval: Interval5m}
	t0 := time.Unix(0, 0)

	b.Update(key, mkCandle(t0, 1, true))
	b.Update(key, mkCandle(t0.Add(5*time.Minute), 2, false))

	closed := b.Closed(key, 0)
	if len(closed) != 1 || closed[0].Close != 1 {
		t.Fatalf("expected only the closed candle, got %v", closed)
	}
}

func TestLastCloseEmptyReturnsFalse(t *testing.T) {
	b := NewBuffer(10)
	if _, ok := b.LastClose(Key{Symbol: "X", Interval: Interval1m}); ok {
		t.Fatalf("expected no last close on empty buffer")
	}
}

func TestUpdateUnclosedReplacesUnclosedTrailing(t *testing.T) {
	b := NewBuffer(10)
	key := Key{Symbol: "BTCUSDT", Interval: Interval1m}
	t0 := time.Unix(0, 0)

	b.Update(key, mkCandle(t0, 100, false))
	b.Update(key, mkCandle(t0, 105, false))

	ring := b.Closes(key, 0)
	if len(ring) != 0 {
		t.Fatalf("still unclosed, should report zero closed candles")
	}
	if got := len(b.rings[key]); got != 1 {
		t.Fatalf("expected the unclosed twin to replace the trailing bar, ring holds %d", got)
	}
	if got := b.rings[key][0].Close; got != 105 {
		t.Fatalf("expected the trailing bar to carry the newer close 105, got %v", got)
	}
}
