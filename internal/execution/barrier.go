// Package execution implements the two exit state machines a supervised
// position is driven through — the triple barrier (this file) and the
// order-flow-aware micro-trail (microtrail.go) — and the ticker that
// evaluates both for every open position (supervisor.go).
package execution

import (
	"time"

	"spotcore/internal/regime"
)

// BarrierConfig is the regime-specific ATR multiplier set and time limit
// a triple barrier is built from. Values are looked up by regime at
// barrier construction time; they never change for the life of the
// barrier.
type BarrierConfig struct {
	SLMultiplier  float64
	TP1Multiplier float64
	TP2Multiplier float64
	TimeLimit     time.Duration
}

// regimeBarrierConfigs are the per-regime ATR multiplier/time-limit
// defaults: wider room and longer patience the more directional the
// regime, tighter and quicker the choppier it is.
var regimeBarrierConfigs = map[regime.Label]BarrierConfig{
	regime.Trending: {SLMultiplier: 1.5, TP1Multiplier: 2.0, TP2Multiplier: 4.0, TimeLimit: 3600 * time.Second},
	regime.Ranging:  {SLMultiplier: 1.0, TP1Multiplier: 1.5, TP2Multiplier: 2.5, TimeLimit: 1800 * time.Second},
	regime.Volatile: {SLMultiplier: 2.0, TP1Multiplier: 2.5, TP2Multiplier: 4.0, TimeLimit: 1800 * time.Second},
	regime.Squeeze:  {SLMultiplier: 1.2, TP1Multiplier: 2.5, TP2Multiplier: 5.0, TimeLimit: 5400 * time.Second},
	regime.Dead:     {SLMultiplier: 1.0, TP1Multiplier: 1.5, TP2Multiplier: 2.5, TimeLimit: 900 * time.Second},
}

// ConfigFor returns the regime-specific barrier config, falling back to
// Ranging's if the label is unrecognized.
func ConfigFor(label regime.Label) BarrierConfig {
	if c, ok := regimeBarrierConfigs[label]; ok {
		return c
	}
	return regimeBarrierConfigs[regime.Ranging]
}

// profitLockBuffer and breakevenLockBuffer are the 0.05% offsets past
// breakeven the profit-lock and breakeven-lock ratchets park the SL at.
const (
	profitLockBuffer   = 0.0005
	breakevenLockBuffer = 0.0005
)

// Barrier is one position's triple-barrier state: configuration, the
// absolute derived prices, and the flags that track which ratchets have
// already fired.
type Barrier struct {
	Side       string // "BUY" or "SELL"
	Entry      float64
	Config     BarrierConfig
	OpenedAt   time.Time

	CurrentSL float64
	TP1Price  float64
	TP2Price  float64

	TP1Hit               bool
	ProfitLockActive     bool
	BreakevenLockActive  bool
}

func (b *Barrier) long() bool { return b.Side == "BUY" }

// NewBarrier derives absolute SL/TP1/TP2 prices from entry, side, and ATR
// using the regime-specific multiplier set, and records the position's
// open time for the time-limit and tightening schedule.
func NewBarrier(side string, entry, atr float64, cfg BarrierConfig, openedAt time.Time) *Barrier {
	b := &Barrier{Side: side, Entry: entry, Config: cfg, OpenedAt: openedAt}

	slDist := atr * cfg.SLMultiplier
	tp1Dist := atr * cfg.TP1Multiplier
	tp2Dist := atr * cfg.TP2Multiplier

	if b.long() {
		b.CurrentSL = entry - slDist
		b.TP1Price = entry + tp1Dist
		b.TP2Price = entry + tp2Dist
	} else {
		b.CurrentSL = entry + slDist
		b.TP1Price = entry - tp1Dist
		b.TP2Price = entry - tp2Dist
	}
	return b
}

// ratchetSL moves CurrentSL toward candidate only if candidate is tighter
// (closer to entry / more protective) than the current value — it never
// widens. For longs that means only increasing; for shorts only
// decreasing.
func (b *Barrier) ratchetSL(candidate float64) {
	if b.long() {
		if candidate > b.CurrentSL {
			b.CurrentSL = candidate
		}
	} else {
		if candidate < b.CurrentSL {
			b.CurrentSL = candidate
		}
	}
}

// Outcome is the non-empty reason string for a triggered barrier, or ""
// if no barrier fired this evaluation.
type Outcome string

const (
	NoOutcome    Outcome = ""
	StopLoss     Outcome = "StopLoss"
	TakeProfit1  Outcome = "TakeProfit1"
	TakeProfit2  Outcome = "TakeProfit2"
	TimeBarrier  Outcome = "TimeBarrier"
)

// Evaluate runs one tick of the triple-barrier state machine at the given
// price and time: applies profit-lock, breakeven-lock, and progressive
// tightening ratchets (in that order; the profit lock can fire on the
// same tick as either of the others, while breakeven lock, from 75% of
// the time budget, and tightening, between 50% and 75%, exclude each
// other), then checks time limit, TP2, TP1, and current SL in that
// priority order. Evaluating twice at the same (price, time) leaves the
// barrier's state unchanged: the ratchets only ever move toward their
// already-reached target, and the one latch, TP1Hit, is set by the first
// call, so TakeProfit1 is reported only once.
func (b *Barrier) Evaluate(price float64, now time.Time) Outcome {
	elapsed := now.Sub(b.OpenedAt)
	timeFrac := 0.0
	if b.Config.TimeLimit > 0 {
		timeFrac = elapsed.Seconds() / b.Config.TimeLimit.Seconds()
	}

	tp1Dist := b.tp1Distance()
	favourable := b.favourableExcursion(price)

	// Profit lock: >=50% of TP1 distance favourable, ratchet SL to
	// breakeven + buffer.
	if tp1Dist > 0 && favourable >= 0.5*tp1Dist {
		b.ProfitLockActive = true
		if b.long() {
			b.ratchetSL(b.Entry * (1 + profitLockBuffer))
		} else {
			b.ratchetSL(b.Entry * (1 - profitLockBuffer))
		}
	}

	// Breakeven lock: >=75% of time budget, ratchet SL to breakeven+buffer.
	if timeFrac >= 0.75 {
		b.BreakevenLockActive = true
		if b.long() {
			b.ratchetSL(b.Entry * (1 + breakevenLockBuffer))
		} else {
			b.ratchetSL(b.Entry * (1 - breakevenLockBuffer))
		}
	} else if timeFrac >= 0.5 {
		// Progressive tightening: linearly interpolate SL from the
		// original level toward entry between 50% and 75% of the time
		// budget.
		t := (timeFrac - 0.5) / 0.25
		original := b.originalSL()
		interpolated := original + t*(b.Entry-original)
		b.ratchetSL(interpolated)
	}

	if b.Config.TimeLimit > 0 && elapsed >= b.Config.TimeLimit {
		return TimeBarrier
	}

	if b.long() {
		if price >= b.TP2Price {
			return TakeProfit2
		}
		if !b.TP1Hit && price >= b.TP1Price {
			b.TP1Hit = true
			return TakeProfit1
		}
		if price <= b.CurrentSL {
			return StopLoss
		}
		return NoOutcome
	}

	if price <= b.TP2Price {
		return TakeProfit2
	}
	if !b.TP1Hit && price <= b.TP1Price {
		b.TP1Hit = true
		return TakeProfit1
	}
	if price >= b.CurrentSL {
		return StopLoss
	}
	return NoOutcome
}

func (b *Barrier) tp1Distance() float64 {
	if b.long() {
		return b.TP1Price - b.Entry
	}
	return b.Entry - b.TP1Price
}

// favourableExcursion returns how far price has moved in the position's
// favour from entry, 0 or negative if it hasn't moved favourably at all.
func (b *Barrier) favourableExcursion(price float64) float64 {
	if b.long() {
		return price - b.Entry
	}
	return b.Entry - price
}

// originalSL recomputes the barrier's initial (pre-ratchet) SL price
// from entry and side, used as the starting point for progressive
// tightening's interpolation.
func (b *Barrier) originalSL() float64 {
	// The barrier doesn't retain ATR directly, but the original SL price
	// is derivable from the same multiplier ratio used to derive TP1:
	// SLDist/TP1Dist = SLMultiplier/TP1Multiplier.
	if b.Config.TP1Multiplier == 0 {
		return b.CurrentSL
	}
	ratio := b.Config.SLMultiplier / b.Config.TP1Multiplier
	tp1Dist := b.tp1Distance()
	if b.long() {
		return b.Entry - tp1Dist*ratio
	}
	return b.Entry + tp1Dist*ratio
}
