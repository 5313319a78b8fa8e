package execution

import (
	"fmt"
	"strings"
	"time"
)

// Phase is the micro-trail's current tightness regime, selected by
// favourable-progress fraction of the TP1 distance.
type Phase string

const (
	PhaseLoose      Phase = "LOOSE"
	PhaseStandard   Phase = "STANDARD"
	PhaseAggressive Phase = "AGGRESSIVE"
)

const (
	looseATRMult      = 1.5
	standardATRMult   = 1.0
	aggressiveATRMult = 0.5

	minTrailPct          = 0.0020 // 0.20% of entry price
	velocityWindow       = 5 * time.Second
	velocityThresholdPct = 0.0030 // 0.30% adverse move within the window
)

// Context is the live order-flow snapshot the micro-trail's tightening
// multipliers react to.
type Context struct {
	CVD          float64
	CVDAtEntry   float64
	Imbalance    float64 // order-book imbalance in [-1, 1]
	VPIN         float64
	VPINOK       bool
}

type pricePoint struct {
	price float64
	at    time.Time
}

// MicroTrail is one position's ATR-scaled, order-flow-tightened trailing
// stop. BestFavourable is monotone in the favourable direction; TrailPrice
// only ever ratchets toward BestFavourable.
type MicroTrail struct {
	Side     string // "BUY" or "SELL"
	Entry    float64
	TP1Price float64
	ATR      float64

	BestFavourable float64
	TrailPrice     float64
	Phase          Phase

	history []pricePoint
}

func (m *MicroTrail) long() bool { return m.Side == "BUY" }

// NewMicroTrail seeds a micro-trail at entry, with the trail price set to
// the loose-phase distance away from entry (the widest starting point).
func NewMicroTrail(side string, entry, tp1, atr float64) *MicroTrail {
	m := &MicroTrail{Side: side, Entry: entry, TP1Price: tp1, ATR: atr, BestFavourable: entry, Phase: PhaseLoose}
	dist := maxf(looseATRMult*atr, entry*minTrailPct)
	if m.long() {
		m.TrailPrice = entry - dist
	} else {
		m.TrailPrice = entry + dist
	}
	return m
}

func (m *MicroTrail) tp1Distance() float64 {
	if m.long() {
		return m.TP1Price - m.Entry
	}
	return m.Entry - m.TP1Price
}

func (m *MicroTrail) favourableExcursion(price float64) float64 {
	if m.long() {
		return price - m.Entry
	}
	return m.Entry - price
}

func selectPhase(progressFrac float64) (Phase, float64) {
	switch {
	case progressFrac >= 0.60:
		return PhaseAggressive, aggressiveATRMult
	case progressFrac >= 0.30:
		return PhaseStandard, standardATRMult
	default:
		return PhaseLoose, looseATRMult
	}
}

// Update folds one price tick into the micro-trail: advances the
// high/low-water mark, selects the phase from favourable progress,
// computes the order-flow-tightened trail distance, applies the velocity
// shield, and ratchets the trail price. It returns a non-empty exit
// reason (`MicroTrail_<phase>[ | <tags>]`) the instant price crosses the
// trail in the adverse direction, and "" otherwise.
func (m *MicroTrail) Update(price float64, now time.Time, ctx Context) string {
	if m.long() {
		if price > m.BestFavourable {
			m.BestFavourable = price
		}
	} else {
		if price < m.BestFavourable || m.BestFavourable == 0 {
			m.BestFavourable = price
		}
	}

	m.history = append(m.history, pricePoint{price: price, at: now})
	cutoff := now.Add(-velocityWindow)
	trimmed := m.history[:0]
	for _, pt := range m.history {
		if !pt.at.Before(cutoff) {
			trimmed = append(trimmed, pt)
		}
	}
	m.history = trimmed

	progressFrac := 0.0
	if tp1Dist := m.tp1Distance(); tp1Dist > 0 {
		progressFrac = m.favourableExcursion(price) / tp1Dist
	}
	phase, mult := selectPhase(progressFrac)
	m.Phase = phase

	dist := mult * m.ATR
	var tags []string

	cvdAdverse := (m.long() && ctx.CVD < ctx.CVDAtEntry) || (!m.long() && ctx.CVD > ctx.CVDAtEntry)
	if cvdAdverse {
		dist *= 0.70
		tags = append(tags, "CVD_DIVERGE")
	}

	obAdverse := (m.long() && ctx.Imbalance < -0.3) || (!m.long() && ctx.Imbalance > 0.3)
	if obAdverse {
		dist *= 0.80
		tags = append(tags, "OB_PRESSURE")
	}

	if ctx.VPINOK && ctx.VPIN > 0.70 {
		dist *= 0.50
		tags = append(tags, "VPIN_TOXIC")
	}

	minDist := m.Entry * minTrailPct
	if dist < minDist {
		dist = minDist
	}

	var candidate float64
	if m.long() {
		candidate = m.BestFavourable - dist
	} else {
		candidate = m.BestFavourable + dist
	}

	if m.velocitySnapTriggered(now) {
		snap := price
		if m.long() {
			snap -= minDist
			if snap > candidate {
				candidate = snap
			}
		} else {
			snap += minDist
			if snap < candidate {
				candidate = snap
			}
		}
		tags = append(tags, "VELOCITY_SNAP")
	}

	m.ratchet(candidate)

	if m.long() {
		if price <= m.TrailPrice {
			return reasonString(phase, tags)
		}
	} else {
		if price >= m.TrailPrice {
			return reasonString(phase, tags)
		}
	}
	return ""
}

// velocitySnapTriggered reports whether, within the trailing
// velocityWindow, price has moved against the position by more than
// velocityThresholdPct of entry.
func (m *MicroTrail) velocitySnapTriggered(now time.Time) bool {
	if len(m.history) == 0 {
		return false
	}
	latest := m.history[len(m.history)-1].price

	var worst float64 // most favourable price in the window; the adverse move is measured back from it
	worst = latest
	for _, pt := range m.history {
		if m.long() {
			if pt.price > worst {
				worst = pt.price
			}
		} else {
			if pt.price < worst {
				worst = pt.price
			}
		}
	}

	var adverseMove float64
	if m.long() {
		adverseMove = (worst - latest) / m.Entry
	} else {
		adverseMove = (latest - worst) / m.Entry
	}
	return adverseMove > velocityThresholdPct
}

// ratchet only ever tightens the trail price toward the favourable side.
func (m *MicroTrail) ratchet(candidate float64) {
	if m.long() {
		if candidate > m.TrailPrice {
			m.TrailPrice = candidate
		}
	} else {
		if candidate < m.TrailPrice || m.TrailPrice == 0 {
			m.TrailPrice = candidate
		}
	}
}

func reasonString(phase Phase, tags []string) string {
	if len(tags) == 0 {
		return fmt.Sprintf("MicroTrail_%s", phase)
	}
	return fmt.Sprintf("MicroTrail_%s | %s", phase, strings.Join(tags, "+"))
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
