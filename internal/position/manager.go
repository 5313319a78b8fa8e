// Package position tracks the life cycle of every trade this engine opens:
// entry through optional TP1 partial close to final close, unrealized PnL
// against the live price, and a journal of closed positions for the
// dashboard and the journal sink.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is a position's life-cycle stage.
type Status string

const (
	Open       Status = "Open"
	PartialTP1 Status = "PartialTP1"
	Closed     Status = "Closed"
)

// tp1PartialFraction is the fraction of remaining quantity closed when
// TP1 is hit the first time.
const tp1PartialFraction = 0.60

// defaultTrailPct is the default trailing-stop distance from the
// favourable extreme, used in the window before a position's
// barrier/micro-trail state is registered with the exit supervisor.
const defaultTrailPct = 0.005

// Position is one open (or recently closed) trade. Identity fields
// (ID, Symbol, Side, EntryPrice, OpenedAt) never change after open_position;
// the rest mutate as price updates and exits occur.
type Position struct {
	ID         string
	Symbol     string
	Side       string // "BUY" or "SELL"
	EntryPrice float64
	OpenedAt   time.Time

	InitialQty     float64
	RemainingQty   float64
	CurrentPrice   float64
	UnrealizedPnL  float64
	StopLoss       float64
	TrailingStop   float64
	TP1Price       float64
	TP2Price       float64
	BestFavourable float64 // high-water (long) / low-water (short)
	Status         Status
	RealizedPnL    float64
	TP1Hit         bool

	ClosedAt     *time.Time
	CloseReason  string
	ClosePrice   float64
}

func (p *Position) direction() float64 {
	if p.Side == "SELL" {
		return -1
	}
	return 1
}

// ClosedRecord is an append-only entry in the closed-position journal.
type ClosedRecord struct {
	Position Position
}

// Manager is the process-wide position life cycle store: open positions
// keyed by ID, plus a capped in-memory journal of closed positions.
type Manager struct {
	mu     sync.RWMutex
	log    zerolog.Logger
	open   map[string]*Position
	closed []ClosedRecord

	closedCap int
	cache     SnapshotCache // optional, nil when no external mirror is configured
}

// SnapshotCache is the subset of behavior internal/position/redis_cache.go
// provides: a best-effort mirror of open-position state used to warm-resume
// across restarts. A nil SnapshotCache disables mirroring entirely.
type SnapshotCache interface {
	SavePosition(p Position)
	DeletePosition(id string)
	LoadAll() []Position
}

const defaultClosedCapacity = 5000

// NewManager returns an empty position manager. cache may be nil.
func NewManager(log zerolog.Logger, cache SnapshotCache) *Manager {
	m := &Manager{
		log:       log.With().Str("component", "position.Manager").Logger(),
		open:      make(map[string]*Position),
		closedCap: defaultClosedCapacity,
		cache:     cache,
	}
	if cache != nil {
		for _, snap := range cache.LoadAll() {
			p := snap
			m.open[p.ID] = &p
		}
	}
	return m
}

// OpenPosition creates a new open position and registers it. Returns the
// generated position id.
func (m *Manager) OpenPosition(symbol, side string, entry, qty, sl, tp1, tp2 float64) string {
	p := &Position{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Side:           side,
		EntryPrice:     entry,
		OpenedAt:       time.Now(),
		InitialQty:     qty,
		RemainingQty:   qty,
		CurrentPrice:   entry,
		StopLoss:       sl,
		TP1Price:       tp1,
		TP2Price:       tp2,
		BestFavourable: entry,
		Status:         Open,
	}
	p.TrailingStop = defaultTrail(p)

	m.mu.Lock()
	m.open[p.ID] = p
	m.mu.Unlock()

	m.mirror(p)

	m.log.Info().
		Str("position_id", p.ID).
		Str("symbol", symbol).
		Str("side", side).
		Float64("entry_price", entry).
		Float64("quantity", qty).
		Float64("sl", sl).
		Float64("tp1", tp1).
		Float64("tp2", tp2).
		Msg("position opened")

	return p.ID
}

func defaultTrail(p *Position) float64 {
	if p.direction() > 0 {
		return p.BestFavourable * (1 - defaultTrailPct)
	}
	return p.BestFavourable * (1 + defaultTrailPct)
}

// UpdatePrice recomputes unrealized PnL and the default trailing stop for
// every open position on symbol at the given current price. Positions with
// externally-registered barrier/micro-trail state still get their
// unrealized PnL and high/low-water mark refreshed here; their exit
// decisions come from the exit supervisor, not from this default trail.
func (m *Manager) UpdatePrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.open {
		if p.Symbol != symbol {
			continue
		}
		p.CurrentPrice = price
		p.UnrealizedPnL = p.direction() * (price - p.EntryPrice) * p.RemainingQty

		if p.direction() > 0 {
			if price > p.BestFavourable {
				p.BestFavourable = price
			}
			newTrail := p.BestFavourable * (1 - defaultTrailPct)
			if newTrail > p.TrailingStop {
				p.TrailingStop = newTrail
			}
		} else {
			if price < p.BestFavourable {
				p.BestFavourable = price
			}
			newTrail := p.BestFavourable * (1 + defaultTrailPct)
			if newTrail < p.TrailingStop || p.TrailingStop == 0 {
				p.TrailingStop = newTrail
			}
		}
	}
}

// ExitSignal is one triggered exit found by CheckExits.
type ExitSignal struct {
	PositionID string
	Reason     string
}

// CheckExits scans open positions against their stop-loss, TP2, TP1, and
// default trailing-stop levels. TP1 triggers a partial close inline and
// does not appear in the returned exit list; the other three reasons do.
// This is the position manager's own fallback check — the richer path is
// the exit supervisor driving the triple-barrier and micro-trail state
// machines directly (see internal/execution).
func (m *Manager) CheckExits() []ExitSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exits []ExitSignal
	for _, p := range m.open {
		if p.CurrentPrice <= 0 {
			continue
		}
		long := p.direction() > 0

		switch {
		case long && p.CurrentPrice <= p.StopLoss, !long && p.CurrentPrice >= p.StopLoss:
			exits = append(exits, ExitSignal{PositionID: p.ID, Reason: "StopLoss"})
		case long && p.TP2Price > 0 && p.CurrentPrice >= p.TP2Price,
			!long && p.TP2Price > 0 && p.CurrentPrice <= p.TP2Price:
			exits = append(exits, ExitSignal{PositionID: p.ID, Reason: "TakeProfit2"})
		case p.Status == Open && p.TP1Price > 0 &&
			((long && p.CurrentPrice >= p.TP1Price) || (!long && p.CurrentPrice <= p.TP1Price)):
			m.partialCloseTP1Locked(p, p.CurrentPrice)
		case (long && p.CurrentPrice <= p.TrailingStop) || (!long && p.TrailingStop > 0 && p.CurrentPrice >= p.TrailingStop):
			exits = append(exits, ExitSignal{PositionID: p.ID, Reason: "TrailingStop"})
		}
	}
	return exits
}

// PartialCloseTP1 closes tp1PartialFraction of the remaining quantity at
// price, accumulates realized PnL, and marks the position PartialTP1. The
// exit supervisor calls this when the triple barrier reports TakeProfit1;
// the position stays open on its remaining quantity.
func (m *Manager) PartialCloseTP1(id string, price float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.open[id]
	if !ok {
		return 0, fmt.Errorf("position not found: %s", id)
	}
	if p.Status != Open {
		return 0, fmt.Errorf("position %s already partially closed", id)
	}

	pnl := m.partialCloseTP1Locked(p, price)
	if m.cache != nil {
		m.cache.SavePosition(*p)
	}
	return pnl, nil
}

// partialCloseTP1Locked closes tp1PartialFraction of the remaining
// quantity at price, accumulates realized PnL, and marks the position
// PartialTP1. Caller must hold m.mu.
func (m *Manager) partialCloseTP1Locked(p *Position, price float64) float64 {
	closedQty := p.RemainingQty * tp1PartialFraction
	pnl := p.direction() * (price - p.EntryPrice) * closedQty

	p.RemainingQty -= closedQty
	p.RealizedPnL += pnl
	p.Status = PartialTP1
	p.TP1Hit = true

	m.log.Info().
		Str("position_id", p.ID).
		Str("symbol", p.Symbol).
		Float64("closed_qty", closedQty).
		Float64("pnl", pnl).
		Float64("remaining_qty", p.RemainingQty).
		Msg("position partially closed at TP1")
	return pnl
}

// ClosePosition removes id from the open set, realizes PnL on the
// remaining quantity at closePrice, appends a ClosedRecord, and returns
// the total realized PnL (partial-close PnL already accumulated plus this
// final slice). The argument order is id, reason, price — everywhere.
func (m *Manager) ClosePosition(id, reason string, closePrice float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.open[id]
	if !ok {
		return 0, fmt.Errorf("position not found: %s", id)
	}

	finalPnL := p.direction() * (closePrice - p.EntryPrice) * p.RemainingQty
	p.RealizedPnL += finalPnL
	p.RemainingQty = 0
	p.Status = Closed
	p.ClosePrice = closePrice
	p.CloseReason = reason
	now := time.Now()
	p.ClosedAt = &now

	delete(m.open, id)
	m.appendClosedLocked(*p)

	m.log.Info().
		Str("position_id", id).
		Str("symbol", p.Symbol).
		Str("reason", reason).
		Float64("close_price", closePrice).
		Float64("realized_pnl", p.RealizedPnL).
		Msg("position closed")

	if m.cache != nil {
		m.cache.DeletePosition(id)
	}

	return p.RealizedPnL, nil
}

func (m *Manager) appendClosedLocked(p Position) {
	m.closed = append(m.closed, ClosedRecord{Position: p})
	if over := len(m.closed) - m.closedCap; over > 0 {
		m.closed = append([]ClosedRecord(nil), m.closed[over:]...)
	}
}

func (m *Manager) mirror(p *Position) {
	if m.cache != nil {
		m.cache.SavePosition(*p)
	}
}

// Get returns a copy of the open position with id, or false if it does not
// exist (or has already closed).
func (m *Manager) Get(id string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.open[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// OpenPositions returns a snapshot copy of every currently open position.
func (m *Manager) OpenPositions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	return out
}

// OpenPositionCount implements strategy.PositionLookup.
func (m *Manager) OpenPositionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// HasOpenPosition implements strategy.PositionLookup (gate 5).
func (m *Manager) HasOpenPosition(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.open {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

// ClosedPositions returns the n most recent closed-position records,
// oldest first. n<=0 returns the full retained journal.
func (m *Manager) ClosedPositions(n int) []ClosedRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n >= len(m.closed) {
		return append([]ClosedRecord(nil), m.closed...)
	}
	return append([]ClosedRecord(nil), m.closed[len(m.closed)-n:]...)
}

// UpdateStopLoss applies an exit supervisor's ratcheted SL to the open
// position. Returns false if id is not open.
func (m *Manager) UpdateStopLoss(id string, sl float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.open[id]
	if !ok {
		return false
	}
	p.StopLoss = sl
	return true
}

// UpdateTrailingStop applies an exit supervisor's ratcheted micro-trail
// price to the open position, for dashboard display. Returns false if id
// is not open.
func (m *Manager) UpdateTrailingStop(id string, trail float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.open[id]
	if !ok {
		return false
	}
	p.TrailingStop = trail
	return true
}
