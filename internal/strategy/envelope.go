package strategy

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// FinalDecision is the envelope's terminal verdict.
type FinalDecision string

const (
	Allow FinalDecision = "ALLOW"
	Block FinalDecision = "BLOCK"
)

// LayerVerdict is one gate/filter's pass/fail outcome, recorded for audit.
type LayerVerdict struct {
	Layer string
	Pass  bool
	Note  string
}

// Envelope is the immutable audit record produced once per decision cycle.
type Envelope struct {
	ID             string
	Symbol         string
	Side           string
	StrategyName   string
	Layers         []LayerVerdict
	FinalDecision  FinalDecision
	BlockingLayer  string
	Reason         string
	CreatedAt      time.Time
}

// NewEnvelope constructs an immutable envelope. Once built it must not be
// mutated further.
func NewEnvelope(symbol, side, strategyName string, layers []LayerVerdict, final FinalDecision, blockingLayer, reason string) Envelope {
	return Envelope{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		StrategyName:  strategyName,
		Layers:        append([]LayerVerdict(nil), layers...),
		FinalDecision: final,
		BlockingLayer: blockingLayer,
		Reason:        reason,
		CreatedAt:     time.Now(),
	}
}

const defaultRingCapacity = 1000

// EnvelopeRing retains a bounded history of recent decision envelopes,
// evicting the oldest past its capacity.
type EnvelopeRing struct {
	mu       sync.RWMutex
	capacity int
	items    []Envelope
}

// NewEnvelopeRing returns an empty ring with the given capacity (0 uses a
// sensible default).
func NewEnvelopeRing(capacity int) *EnvelopeRing {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &EnvelopeRing{capacity: capacity}
}

// Add appends an envelope, trimming the oldest entries past capacity.
func (r *EnvelopeRing) Add(e Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, e)
	if over := len(r.items) - r.capacity; over > 0 {
		r.items = append([]Envelope(nil), r.items[over:]...)
	}
}

// Recent returns the n most recent envelopes, oldest first. n<=0 returns all.
func (r *EnvelopeRing) Recent(n int) []Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n >= len(r.items) {
		return append([]Envelope(nil), r.items...)
	}
	return append([]Envelope(nil), r.items[len(r.items)-n:]...)
}
