package market

import "sync"

// TradeFlow accumulates running order-flow totals for a single symbol: a
// never-reset cumulative volume delta, a windowed buy/sell split used for
// the order-flow-imbalance-persistence filter, and the last traded price.
type TradeFlow struct {
	mu sync.RWMutex

	cvd        float64
	buyVolume  float64
	sellVolume float64
	lastPrice  float64
	tradeCount int64
}

// NewTradeFlow returns a zeroed trade-flow accumulator.
func NewTradeFlow() *TradeFlow {
	return &TradeFlow{}
}

// ProcessTrade folds one aggregated trade into the accumulator. The
// exchange's "buyer is maker" flag is inverted to classify the aggressor:
// if the buyer is passive, the aggressor sold.
func (t *TradeFlow) ProcessTrade(price, quantity float64, buyerIsMaker bool) {
	notional := price * quantity

	t.mu.Lock()
	defer t.mu.Unlock()

	if buyerIsMaker {
		t.sellVolume += notional
		t.cvd -= notional
	} else {
		t.buyVolume += notional
		t.cvd += notional
	}
	t.lastPrice = price
	t.tradeCount++
}

// CVD returns the running cumulative volume delta (never reset).
func (t *TradeFlow) CVD() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cvd
}

// BuyVolumeRatio returns buy / (buy + sell) over the current window,
// defaulting to 0.5 when nothing has traded in the window yet.
func (t *TradeFlow) BuyVolumeRatio() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := t.buyVolume + t.sellVolume
	if total == 0 {
		return 0.5
	}
	return t.buyVolume / total
}

// LastPrice returns the most recent traded price.
func (t *TradeFlow) LastPrice() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tradeCount == 0 {
		return 0, false
	}
	return t.lastPrice, true
}

// TradeCount returns the number of trades processed since construction.
func (t *TradeFlow) TradeCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tradeCount
}

// ResetWindow zeroes the windowed buy/sell accumulators used by
// BuyVolumeRatio; the cumulative volume delta is left untouched.
func (t *TradeFlow) ResetWindow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buyVolume = 0
	t.sellVolume = 0
}

// Store is a registry of per-symbol trade-flow accumulators.
type Store struct {
	mu    sync.RWMutex
	flows map[string]*TradeFlow
}

// NewStore returns an empty per-symbol trade-flow registry.
func NewStore() *Store {
	return &Store{flows: make(map[string]*TradeFlow)}
}

// Get returns (creating if necessary) the accumulator for symbol.
func (s *Store) Get(symbol string) *TradeFlow {
	s.mu.RLock()
	f, ok := s.flows[symbol]
	s.mu.RUnlock()
	if ok {
		return f
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[symbol]; ok {
		return f
	}
	f = NewTradeFlow()
	s.flows[symbol] = f
	return f
}
