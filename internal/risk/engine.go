// Package risk implements the four circuit breakers that gate every
// strategy decision and the daily rollover that resets their counters.
package risk

import (
	"fmt"
	"sync"
	"time"
)

// Mode is the coarse, dashboard-facing label derived from how close the
// breakers are to tripping.
type Mode string

const (
	ModeNormal         Mode = "Normal"
	ModeCautious       Mode = "Cautious"
	ModeBreakerTripped Mode = "BREAKER_TRIPPED"
	ModeKilled         Mode = "KILLED"
)

// cautiousFraction marks the Cautious band: 75% of the way into any
// breaker's budget.
const cautiousFraction = 0.75

// Config holds the four breaker thresholds.
type Config struct {
	MaxDailyLossPct      float64
	MaxConsecutiveLosses int
	MaxDrawdownPct       float64
	MaxDailyTrades       int
}

// Engine tracks daily PnL, consecutive losses, intraday drawdown from peak
// equity, and trades-today against Config's four breakers, with an
// atomic-once-per-day rollover and a permanent kill latch.
type Engine struct {
	mu     sync.RWMutex
	config Config
	now    func() time.Time

	dailyPnL          float64
	consecutiveLosses int
	tradesToday       int
	peakEquity        float64
	currentEquity     float64
	dayStartEquity    float64
	maxDrawdownPct    float64
	currentDate       string // YYYY-MM-DD, UTC
	killed            bool
}

// NewEngine returns a risk engine with the given breaker thresholds.
// startingEquity seeds the peak-equity high-water mark.
func NewEngine(config Config, startingEquity float64) *Engine {
	e := &Engine{
		config:         config,
		now:            time.Now,
		peakEquity:     startingEquity,
		currentEquity:  startingEquity,
		dayStartEquity: startingEquity,
		currentDate:    dateKey(time.Now()),
	}
	return e
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// rolloverLocked resets all daily counters exactly once when the wall-clock
// UTC date has advanced past currentDate. Caller must hold mu.
func (e *Engine) rolloverLocked() {
	today := dateKey(e.now())
	if today == e.currentDate {
		return
	}
	e.currentDate = today
	e.dailyPnL = 0
	e.consecutiveLosses = 0
	e.tradesToday = 0
	e.maxDrawdownPct = 0
	e.peakEquity = e.currentEquity
	e.dayStartEquity = e.currentEquity
}

// CanTrade evaluates the four breakers in order and returns the first
// failure's reason, or (true, "") if trading is permitted.
func (e *Engine) CanTrade() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()

	if e.killed {
		return false, "risk engine killed: manual reset required"
	}
	if lossPct := e.dailyLossPctLocked(); e.config.MaxDailyLossPct > 0 && lossPct >= e.config.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%", lossPct, e.config.MaxDailyLossPct)
	}
	if e.consecutiveLosses >= e.config.MaxConsecutiveLosses {
		return false, fmt.Sprintf("consecutive loss streak reached: %d >= %d", e.consecutiveLosses, e.config.MaxConsecutiveLosses)
	}
	if e.maxDrawdownPct >= e.config.MaxDrawdownPct {
		return false, fmt.Sprintf("intraday drawdown reached: %.2f%% >= %.2f%%", e.maxDrawdownPct, e.config.MaxDrawdownPct)
	}
	if e.tradesToday >= e.config.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade count reached: %d >= %d", e.tradesToday, e.config.MaxDailyTrades)
	}
	return true, ""
}

// RecordTradeResult folds a closed trade's realized PnL into the daily
// totals, updates the consecutive-loss streak (reset on non-negative PnL,
// incremented otherwise), and recomputes peak equity / drawdown from the
// new account equity.
func (e *Engine) RecordTradeResult(pnl, accountEquity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()

	e.dailyPnL += pnl
	e.tradesToday++
	if pnl < 0 {
		e.consecutiveLosses++
	} else {
		e.consecutiveLosses = 0
	}

	e.currentEquity = accountEquity
	if accountEquity > e.peakEquity {
		e.peakEquity = accountEquity
	}
	if e.peakEquity > 0 {
		drawdown := (e.peakEquity - e.currentEquity) / e.peakEquity * 100
		if drawdown > e.maxDrawdownPct {
			e.maxDrawdownPct = drawdown
		}
	}
}

// Kill sets the permanent latch; CanTrade refuses until Reset is called
// by an explicit admin action. No rollover or timer clears it.
func (e *Engine) Kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed = true
}

// Reset clears the kill latch and all daily counters. Only an explicit
// admin action should call this.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed = false
	e.dailyPnL = 0
	e.consecutiveLosses = 0
	e.tradesToday = 0
	e.maxDrawdownPct = 0
	e.peakEquity = e.currentEquity
	e.dayStartEquity = e.currentEquity
	e.currentDate = dateKey(e.now())
}

// dailyLossPctLocked expresses today's net loss as a percentage of the
// equity the day started with; 0 when the day is flat or positive.
// Caller must hold mu.
func (e *Engine) dailyLossPctLocked() float64 {
	if e.dailyPnL >= 0 || e.dayStartEquity <= 0 {
		return 0
	}
	return -e.dailyPnL / e.dayStartEquity * 100
}

// IsKilled reports whether the kill latch is set.
func (e *Engine) IsKilled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.killed
}

// Snapshot is a read-only view of the risk engine's counters, for the
// dashboard and audit log.
type Snapshot struct {
	DailyPnL          float64
	ConsecutiveLosses int
	TradesToday       int
	MaxDrawdownPct    float64
	PeakEquity        float64
	CurrentDate       string
	Mode              Mode
}

// Snapshot returns the current counters and the coarse risk-mode label.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolloverLocked()

	return Snapshot{
		DailyPnL:          e.dailyPnL,
		ConsecutiveLosses: e.consecutiveLosses,
		TradesToday:       e.tradesToday,
		MaxDrawdownPct:    e.maxDrawdownPct,
		PeakEquity:        e.peakEquity,
		CurrentDate:       e.currentDate,
		Mode:              e.modeLocked(),
	}
}

// modeLocked derives the coarse risk-mode label. Caller must hold mu.
func (e *Engine) modeLocked() Mode {
	if e.killed {
		return ModeKilled
	}

	tripped := e.dailyLossPctLocked() >= e.config.MaxDailyLossPct && e.config.MaxDailyLossPct > 0 ||
		e.consecutiveLosses >= e.config.MaxConsecutiveLosses ||
		e.maxDrawdownPct >= e.config.MaxDrawdownPct ||
		e.tradesToday >= e.config.MaxDailyTrades
	if tripped {
		return ModeBreakerTripped
	}

	cautious := (e.config.MaxDailyLossPct > 0 && e.dailyLossPctLocked() >= e.config.MaxDailyLossPct*cautiousFraction) ||
		(e.config.MaxConsecutiveLosses > 0 && float64(e.consecutiveLosses) >= float64(e.config.MaxConsecutiveLosses)*cautiousFraction) ||
		(e.config.MaxDrawdownPct > 0 && e.maxDrawdownPct >= e.config.MaxDrawdownPct*cautiousFraction) ||
		(e.config.MaxDailyTrades > 0 && float64(e.tradesToday) >= float64(e.config.MaxDailyTrades)*cautiousFraction)
	if cautious {
		return ModeCautious
	}
	return ModeNormal
}
