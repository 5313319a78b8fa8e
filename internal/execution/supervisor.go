package execution

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"spotcore/internal/market"
	"spotcore/internal/position"
	"spotcore/internal/regime"
	"spotcore/internal/risk"
)

// tickInterval is the exit supervisor's fixed-rate ticker period.
const tickInterval = 5 * time.Second

// registration is what RegisterPosition needs to start driving a freshly
// opened position's barrier and (optionally) micro-trail.
type registration struct {
	barrier    *Barrier
	trail      *MicroTrail
	symbol     string
	cvdAtEntry float64
}

// Supervisor is a 5s ticker that evaluates the triple barrier and, when
// enabled, the order-flow-aware micro-trail for every open position, and
// drives the position manager's close + the risk engine's PnL recording
// on any triggered exit. This integrated barrier+micro-trail flow is the
// only exit path; the position manager's own CheckExits is not called
// by the supervisor or by any other loop.
type Supervisor struct {
	log zerolog.Logger

	positions *position.Manager
	riskEngine *risk.Engine
	tradeFlows *market.Store
	orderBooks *market.BookStore
	vpins      *market.VPINStore

	enableMicroTrail bool
	accountEquity    func() float64

	// onClose, when set, is invoked after every supervisor-driven final
	// close with the closed position's identity and outcome — the
	// orchestration layer uses it to fan the close out to the event bus
	// and the journal sink without this package importing either.
	onClose func(positionID, symbol, side, reason string, closePrice, pnl float64)

	mu   sync.Mutex
	regs map[string]*registration // keyed by position ID

	stateVersion atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

// NewSupervisor wires a Supervisor to its collaborators. accountEquity is
// called once per risk-engine PnL record, before the closing trade is
// recorded; the trade's realized PnL is added to it to give the
// post-trade equity for drawdown tracking.
func NewSupervisor(log zerolog.Logger, positions *position.Manager, riskEngine *risk.Engine, tradeFlows *market.Store, orderBooks *market.BookStore, vpins *market.VPINStore, enableMicroTrail bool, accountEquity func() float64) *Supervisor {
	return &Supervisor{
		log:              log.With().Str("component", "execution.Supervisor").Logger(),
		positions:        positions,
		riskEngine:       riskEngine,
		tradeFlows:       tradeFlows,
		orderBooks:       orderBooks,
		vpins:            vpins,
		enableMicroTrail: enableMicroTrail,
		accountEquity:    accountEquity,
		regs:             make(map[string]*registration),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// SetOnClose registers the callback invoked after every supervisor-driven
// final close. Must be called before Run.
func (s *Supervisor) SetOnClose(fn func(positionID, symbol, side, reason string, closePrice, pnl float64)) {
	s.onClose = fn
}

// StateVersion returns the monotonically increasing mutation counter
// dashboard clients diff by.
func (s *Supervisor) StateVersion() uint64 {
	return s.stateVersion.Load()
}

func (s *Supervisor) bumpVersion() {
	s.stateVersion.Add(1)
}

// RegisterPosition builds the triple-barrier (and, if enabled, micro-trail)
// state for a newly opened position and starts tracking it. cvdAtEntry is
// the trade-flow accumulator's CVD at the moment of entry, used as the
// micro-trail's CVD-divergence baseline.
func (s *Supervisor) RegisterPosition(positionID, symbol, side string, entry, atr float64, label regime.Label, cvdAtEntry float64, openedAt time.Time) {
	barrierCfg := ConfigFor(label)
	barrier := NewBarrier(side, entry, atr, barrierCfg, openedAt)

	var trail *MicroTrail
	if s.enableMicroTrail {
		trail = NewMicroTrail(side, entry, barrier.TP1Price, atr)
	}

	s.mu.Lock()
	s.regs[positionID] = &registration{barrier: barrier, trail: trail, symbol: symbol, cvdAtEntry: cvdAtEntry}
	s.mu.Unlock()
	s.bumpVersion()
}

// UnregisterPosition drops a position's barrier/trail state, used when a
// position closes through any path.
func (s *Supervisor) UnregisterPosition(positionID string) {
	s.mu.Lock()
	delete(s.regs, positionID)
	s.mu.Unlock()
	s.bumpVersion()
}

type triggeredExit struct {
	positionID string
	price      float64
	reason     string
}

// Tick runs one exit-supervisor evaluation pass: it locks the
// registration map for the duration of the barrier/micro-trail
// evaluation, then releases it before issuing any closes — close
// operations need only the position manager's own lock.
func (s *Supervisor) Tick(now time.Time) {
	open := s.positions.OpenPositions()

	// Refresh each symbol's mark price in the position manager first, so
	// unrealized PnL and the high/low-water marks stay current even for
	// positions whose barriers don't fire this tick.
	seen := make(map[string]bool, len(open))
	for _, p := range open {
		if seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		if price, ok := s.tradeFlows.Get(p.Symbol).LastPrice(); ok && price > 0 {
			s.positions.UpdatePrice(p.Symbol, price)
		}
	}

	s.mu.Lock()
	var triggered []triggeredExit
	var partials []triggeredExit
	for _, p := range open {
		reg, ok := s.regs[p.ID]
		if !ok {
			continue
		}
		price, ok := s.tradeFlows.Get(reg.symbol).LastPrice()
		if !ok || price <= 0 {
			continue
		}

		outcome := reg.barrier.Evaluate(price, now)
		switch outcome {
		case TakeProfit1:
			// TP1 is a partial, not a terminal, exit: the position manager
			// splits the position to PartialTP1 and the barrier keeps
			// supervising the remainder toward TP2/SL/time.
			partials = append(partials, triggeredExit{positionID: p.ID, price: price, reason: string(outcome)})
		case NoOutcome:
		default:
			triggered = append(triggered, triggeredExit{positionID: p.ID, price: price, reason: string(outcome)})
			continue
		}

		s.positions.UpdateStopLoss(p.ID, reg.barrier.CurrentSL)

		if reg.trail != nil {
			book := s.orderBooks.Get(reg.symbol).Snapshot()
			vpinVal, vpinOK := s.vpins.Get(reg.symbol).VPIN()
			cvd := s.tradeFlows.Get(reg.symbol).CVD()

			reason := reg.trail.Update(price, now, Context{
				CVD:        cvd,
				CVDAtEntry: reg.cvdAtEntry,
				Imbalance:  book.Imbalance,
				VPIN:       vpinVal,
				VPINOK:     vpinOK,
			})
			if reason != "" {
				triggered = append(triggered, triggeredExit{positionID: p.ID, price: price, reason: reason})
				continue
			}
			s.positions.UpdateTrailingStop(p.ID, reg.trail.TrailPrice)
		}
	}
	s.mu.Unlock()

	for _, t := range partials {
		if _, err := s.positions.PartialCloseTP1(t.positionID, t.price); err != nil {
			s.log.Warn().Str("position_id", t.positionID).Err(err).Msg("exit supervisor: TP1 partial close failed")
		}
	}
	for _, t := range triggered {
		s.closeExit(t)
	}

	if len(triggered) > 0 || len(partials) > 0 {
		s.bumpVersion()
	}
}

func (s *Supervisor) closeExit(t triggeredExit) {
	snap, _ := s.positions.Get(t.positionID)

	pnl, err := s.positions.ClosePosition(t.positionID, t.reason, t.price)
	if err != nil {
		s.log.Warn().Str("position_id", t.positionID).Err(err).Msg("exit supervisor: close failed")
		return
	}

	equity := pnl
	if s.accountEquity != nil {
		equity = s.accountEquity() + pnl
	}
	s.riskEngine.RecordTradeResult(pnl, equity)

	s.UnregisterPosition(t.positionID)

	if s.onClose != nil {
		s.onClose(t.positionID, snap.Symbol, snap.Side, t.reason, t.price, pnl)
	}

	s.log.Info().
		Str("position_id", t.positionID).
		Str("reason", t.reason).
		Float64("price", t.price).
		Float64("realized_pnl", pnl).
		Msg("exit supervisor closed position")
}

// Run starts the 5s ticker loop. It returns once Stop is called, with
// cancellation observed at the ticker's next wait.
func (s *Supervisor) Run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Stop signals Run to return and blocks until it has.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done
}
