// Package reconcile runs the 60s reconciliation ticker: it compares the
// exchange's open orders against the local position book and reports any
// drift. It never cancels or modifies exchange-side orders — drift is
// only observed, counted, and surfaced to the dashboard alongside the
// last transport error.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spotcore/internal/exchange"
	"spotcore/internal/position"
)

// tickInterval is the reconciliation cadence.
const tickInterval = 60 * time.Second

// Reconciler periodically snapshots exchange-side open orders and
// compares them with the local position manager.
type Reconciler struct {
	client    *exchange.Client
	positions *position.Manager
	log       zerolog.Logger

	// enabled gates the exchange round-trip: a demo account has no
	// exchange-side state to reconcile against, so the ticker idles.
	enabled func() bool

	mu         sync.RWMutex
	lastError  string
	lastRunAt  time.Time
	driftCount int
	drift      []string

	stop chan struct{}
	done chan struct{}
}

// NewReconciler wires a reconciler to its collaborators. enabled is
// consulted every tick; a nil func means always enabled.
func NewReconciler(client *exchange.Client, positions *position.Manager, enabled func() bool, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		client:    client,
		positions: positions,
		enabled:   enabled,
		log:       log.With().Str("component", "reconcile.Reconciler").Logger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run starts the 60s ticker loop until Stop is called or ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Stop signals Run to return and blocks until it has.
func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}

// Tick performs one reconciliation pass. Transport errors are stored for
// dashboard display and cleared on the next successful pass; they are
// never escalated.
func (r *Reconciler) Tick(ctx context.Context) {
	if r.enabled != nil && !r.enabled() {
		return
	}

	orders, err := r.client.GetOpenOrders(ctx, "")
	if err != nil {
		r.mu.Lock()
		r.lastError = err.Error()
		r.lastRunAt = time.Now()
		r.mu.Unlock()
		r.log.Warn().Err(err).Msg("reconciliation pass failed, will retry next interval")
		return
	}

	open := r.positions.OpenPositions()
	localSymbols := make(map[string]bool, len(open))
	for _, p := range open {
		localSymbols[p.Symbol] = true
	}
	exchangeSymbols := make(map[string]bool, len(orders))
	for _, o := range orders {
		exchangeSymbols[o.Symbol] = true
	}

	var drift []string
	for _, o := range orders {
		if !localSymbols[o.Symbol] {
			drift = append(drift, fmt.Sprintf("exchange order %d on %s has no local position", o.OrderId, o.Symbol))
		}
	}
	for _, p := range open {
		if !exchangeSymbols[p.Symbol] {
			drift = append(drift, fmt.Sprintf("local position %s on %s has no exchange-side order", p.ID, p.Symbol))
		}
	}

	r.mu.Lock()
	r.lastError = ""
	r.lastRunAt = time.Now()
	r.driftCount = len(drift)
	r.drift = drift
	r.mu.Unlock()

	if len(drift) > 0 {
		r.log.Warn().Int("drift_count", len(drift)).Strs("drift", drift).Msg("reconciliation drift observed")
	}
}

// Snapshot is a point-in-time view of the reconciler's state for the
// dashboard truth header.
type Snapshot struct {
	LastError  string    `json:"last_error"`
	LastRunAt  time.Time `json:"last_run_at"`
	DriftCount int       `json:"drift_count"`
	Drift      []string  `json:"drift"`
}

// Snapshot returns the last pass's outcome.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		LastError:  r.lastError,
		LastRunAt:  r.lastRunAt,
		DriftCount: r.driftCount,
		Drift:      append([]string(nil), r.drift...),
	}
}
