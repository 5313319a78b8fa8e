package strategy

import (
	"spotcore/internal/indicators"
	"spotcore/internal/market"
	"spotcore/internal/regime"
)

// RiskGate is the subset of the risk engine the pipeline needs: whether
// trading is currently permitted, gate 7 of the insurance gauntlet.
type RiskGate interface {
	CanTrade() (bool, string)
}

// PositionLookup is the subset of the position manager the pipeline needs
// for gates 4 and 5 of the insurance gauntlet.
type PositionLookup interface {
	OpenPositionCount() int
	HasOpenPosition(symbol string) bool
}

// StrategyParams is the runtime-tunable strategy configuration: barrier
// multipliers and floors, position sizing, and gate thresholds.
type StrategyParams struct {
	SLATRMultiplier  float64
	TP1ATRMultiplier float64
	TP2ATRMultiplier float64
	MinSLPct         float64
	MinTP1Pct        float64
	MinTP2Pct        float64
	BasePositionPct  float64
	EntryThreshold   float64
	MaxConcurrentPositions int
	MaxSpreadBps     float64
	Filters          FilterConfig
}

// Proposal is the pipeline's output when it allows a trade: enough to open
// a position and register its barrier and micro-trail state.
type Proposal struct {
	Symbol      string
	Side        string // "BUY" or "SELL"
	EntryPrice  float64
	Quantity    float64
	SLPrice     float64
	TP1Price    float64
	TP2Price    float64
	RegimeLabel regime.Label
	ATR         float64
}

// TickResult is exactly one outcome per (symbol, tick): either an ALLOW
// with a Proposal, or a BLOCK, carried alongside the audit envelope.
type TickResult struct {
	Envelope Envelope
	Proposal *Proposal
}

// Pipeline assembles market data, indicators, regime, the scorer, the
// insurance gauntlet and the smart filters into one decision per symbol
// per tick.
type Pipeline struct {
	Candles    *market.Buffer
	TradeFlows *market.Store
	OrderBooks *market.BookStore
	VPINs      *market.VPINStore
	Regimes    *regime.Classifier
	Risk       RiskGate
	Positions  PositionLookup

	HTFGateData func(symbol string) (ema9_15m, ema21_15m, ema9_1h, ema21_1h float64, ok bool)

	// TradingModeFn reports the runtime-configuration trading mode for
	// insurance gates 1 and 2. A nil func defaults to ModeLive (no
	// additional gating beyond the other six gates).
	TradingModeFn func() TradingMode

	// GlobalNoGo reports the global no-go reason for insurance gate 8, if
	// any operator-set condition outside the pipeline should block every
	// symbol. A nil func means no global no-go is active.
	GlobalNoGo func() string

	Params StrategyParams
}

const strategyName = "regime-weighted-ensemble"

// Tick runs the full ten-step decision cycle for one symbol and returns
// exactly one TickResult.
func (p *Pipeline) Tick(symbol string, accountQuoteBalance float64) TickResult {
	var layers []LayerVerdict

	key5m := market.Key{Symbol: symbol, Interval: market.Interval5m}
	closed5m := p.Candles.Closed(key5m, 0)

	// Step 1: require >= 30 closed 5m candles.
	if len(closed5m) < 30 {
		layers = append(layers, LayerVerdict{Layer: "DataQuality", Pass: false, Note: "fewer than 30 closed 5m candles"})
		return blockResult(symbol, layers, "DataQuality", "insufficient 5m candle history")
	}
	layers = append(layers, LayerVerdict{Layer: "DataQuality", Pass: true})

	closes := closesOf(closed5m)
	highs, lows := highsLowsOf(closed5m)

	ema9, ema9ok := indicators.EMALast(closes, 9)
	ema21, ema21ok := indicators.EMALast(closes, 21)
	ema55, ema55ok := indicators.EMALast(closes, 55)
	rsi14, rsiOK := indicators.RSI(closes, 14)
	atr14, atrOK := indicators.ATR(highs, lows, closes, 14)
	adx14, adxOK := indicators.ADX(highs, lows, closes, 14)
	boll, bollOK := indicators.Bollinger(closes, 20, 2)
	roc14, rocOK := indicators.ROC(closes, 14)

	price := closes[len(closes)-1]
	if !atrOK || price <= 0 {
		layers = append(layers, LayerVerdict{Layer: "Indicators", Pass: false, Note: "price or ATR absent"})
		return blockResult(symbol, layers, "DataQuality", "price or 5m ATR absent")
	}
	layers = append(layers, LayerVerdict{Layer: "Indicators", Pass: true})

	// Step 3: regime snapshot, default Ranging if absent.
	regimeState := p.Regimes.Snapshot(symbol)

	// Step 4: build signal inputs.
	tf := p.TradeFlows.Get(symbol)
	book := p.OrderBooks.Get(symbol).Snapshot()
	vpinVal, vpinOK := p.VPINs.Get(symbol).VPIN()

	inputs := p.buildSignalInputs(regimeState.Label, signalContext{
		rsi: rsi14, rsiOK: rsiOK,
		ema9: ema9, ema21: ema21, ema55: ema55,
		emaOK: ema9ok && ema21ok && ema55ok,
		price: price,
		adx: adx14, adxOK: adxOK,
		bollLower: boll.Lower, bollOK: bollOK,
		roc: roc14, rocOK: rocOK,
		imbalance: book.Imbalance, hasBook: book.HasData,
		buyVolumeRatio: tf.BuyVolumeRatio(),
		vpin: vpinVal, vpinOK: vpinOK,
	})

	// Step 5: score.
	scoring := Score(inputs, p.Params.EntryThreshold)
	if scoring.Decision == Hold {
		layers = append(layers, LayerVerdict{Layer: "Strategy", Pass: false, Note: "scorer returned HOLD"})
		return blockResult(symbol, layers, "Strategy", "composite score within the neutral band")
	}
	layers = append(layers, LayerVerdict{Layer: "Strategy", Pass: true})

	side := "BUY"
	direction := 1
	if scoring.Decision == Sell {
		side = "SELL"
		direction = -1
	}

	// Step 6: insurance gauntlet.
	riskAllows, riskReason := true, ""
	if p.Risk != nil {
		riskAllows, riskReason = p.Risk.CanTrade()
	}
	openCount, hasOpenForSymbol := 0, false
	if p.Positions != nil {
		openCount = p.Positions.OpenPositionCount()
		hasOpenForSymbol = p.Positions.HasOpenPosition(symbol)
	}

	mode := ModeLive
	if p.TradingModeFn != nil {
		mode = p.TradingModeFn()
	}
	globalNoGo := ""
	if p.GlobalNoGo != nil {
		globalNoGo = p.GlobalNoGo()
	}

	pass, blockingGate, reason := RunGauntlet(GauntletInput{
		Mode:                     mode,
		RegimeLabel:              regimeState.Label,
		OpenPositionCount:        openCount,
		MaxConcurrentPositions:   p.Params.MaxConcurrentPositions,
		HasOpenPositionForSymbol: hasOpenForSymbol,
		HasOrderBookData:         book.HasData,
		SpreadBps:                book.SpreadBps,
		MaxSpreadBps:             p.Params.MaxSpreadBps,
		RiskEngineAllows:         riskAllows,
		RiskEngineReason:         riskReason,
		GlobalNoGoReason:         globalNoGo,
	})
	layers = append(layers, LayerVerdict{Layer: "InsuranceGauntlet", Pass: pass, Note: reason})
	if !pass {
		return blockResult(symbol, layers, blockingGate, reason)
	}

	// Step 7: smart filters.
	filterInputs := FilterInputs{
		Direction:       direction,
		Score:           scoring.Total,
		Regime:          regimeState.Label,
		BuyVolumeRatio:  tf.BuyVolumeRatio(),
		Closes5m:        closes,
		Last20Candles5m: absorptionCandlesOf(closed5m),
		Entropy:         regimeState.Entropy,
	}
	if p.HTFGateData != nil {
		e9_15, e21_15, e9_1h, e21_1h, ok := p.HTFGateData(symbol)
		filterInputs.HasHTFData = ok
		filterInputs.EMA9_15m, filterInputs.EMA21_15m = e9_15, e21_15
		filterInputs.EMA9_1h, filterInputs.EMA21_1h = e9_1h, e21_1h
	}
	filterResult := RunFilters(p.Params.Filters, filterInputs)
	layers = append(layers, LayerVerdict{Layer: "SmartFilters", Pass: filterResult.Pass, Note: filterResult.Reason})
	if !filterResult.Pass {
		return blockResult(symbol, layers, filterResult.BlockingFilter, filterResult.Reason)
	}

	// Step 8: barrier distances from 5m ATR, with hard minimum floors.
	slDist := maxFloat(atr14*p.Params.SLATRMultiplier, price*p.Params.MinSLPct/100)
	tp1Dist := maxFloat(atr14*p.Params.TP1ATRMultiplier, price*p.Params.MinTP1Pct/100)
	tp2Dist := maxFloat(atr14*p.Params.TP2ATRMultiplier, price*p.Params.MinTP2Pct/100)

	var slPrice, tp1Price, tp2Price float64
	if direction > 0 {
		slPrice, tp1Price, tp2Price = price-slDist, price+tp1Dist, price+tp2Dist
	} else {
		slPrice, tp1Price, tp2Price = price+slDist, price-tp1Dist, price-tp2Dist
	}

	// Step 9: size position.
	qty := 0.0
	if price > 0 {
		qty = accountQuoteBalance * (p.Params.BasePositionPct / 100) / price
	}
	if qty <= 0 {
		layers = append(layers, LayerVerdict{Layer: "PositionSizing", Pass: false, Note: "zero quantity"})
		return blockResult(symbol, layers, "PositionSizing", "computed quantity is zero")
	}
	layers = append(layers, LayerVerdict{Layer: "PositionSizing", Pass: true})

	proposal := &Proposal{
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  price,
		Quantity:    qty,
		SLPrice:     slPrice,
		TP1Price:    tp1Price,
		TP2Price:    tp2Price,
		RegimeLabel: regimeState.Label,
		ATR:         atr14,
	}

	envelope := NewEnvelope(symbol, side, strategyName, layers, Allow, "", "")
	return TickResult{Envelope: envelope, Proposal: proposal}
}

func blockResult(symbol string, layers []LayerVerdict, blockingLayer, reason string) TickResult {
	envelope := NewEnvelope(symbol, "", strategyName, layers, Block, blockingLayer, reason)
	return TickResult{Envelope: envelope}
}

type signalContext struct {
	rsi            float64
	rsiOK          bool
	ema9, ema21, ema55 float64
	emaOK          bool
	price          float64
	adx            float64
	adxOK          bool
	bollLower      float64
	bollOK         bool
	roc            float64
	rocOK          bool
	imbalance      float64
	hasBook        bool
	buyVolumeRatio float64
	vpin           float64
	vpinOK         bool
}

// buildSignalInputs maps the raw indicator readings onto the fixed set
// of named signal inputs the scorer combines.
func (p *Pipeline) buildSignalInputs(label regime.Label, ctx signalContext) []SignalInput {
	var inputs []SignalInput

	if ctx.rsiOK {
		dir, conf := 0, 0.0
		if ctx.rsi < 30 {
			dir, conf = 1, (30-ctx.rsi)/30
		} else if ctx.rsi > 70 {
			dir, conf = -1, (ctx.rsi-70)/30
		}
		inputs = append(inputs, SignalInput{Name: "rsi", Weight: WeightFor(label, "rsi"), Confidence: clamp01(conf), Direction: dir})
	}

	if ctx.emaOK {
		dir, conf := 0, 0.0
		if ctx.price > ctx.ema9 && ctx.ema9 > ctx.ema21 && ctx.ema21 > ctx.ema55 {
			dir, conf = 1, 0.8
		} else if ctx.price < ctx.ema9 && ctx.ema9 < ctx.ema21 && ctx.ema21 < ctx.ema55 {
			dir, conf = -1, 0.8
		}
		inputs = append(inputs, SignalInput{Name: "ema_trend", Weight: WeightFor(label, "ema_trend"), Confidence: conf, Direction: dir})
	}

	if ctx.adxOK {
		dir := 0
		if ctx.adx > 25 {
			dir = 1
		}
		inputs = append(inputs, SignalInput{Name: "adx", Weight: WeightFor(label, "adx"), Confidence: clamp01(ctx.adx / 50), Direction: dir})
	}

	if ctx.bollOK {
		dir := 0
		if ctx.price < ctx.bollLower {
			dir = 1
		}
		inputs = append(inputs, SignalInput{Name: "bbw", Weight: WeightFor(label, "bbw"), Confidence: 0.6, Direction: dir})
	}

	if ctx.rocOK {
		dir := 0
		if ctx.roc > 0 {
			dir = 1
		} else if ctx.roc < 0 {
			dir = -1
		}
		inputs = append(inputs, SignalInput{Name: "roc", Weight: WeightFor(label, "roc"), Confidence: clamp01(abs(ctx.roc) / 5), Direction: dir})
	}

	if ctx.hasBook {
		dir := 0
		if ctx.imbalance > 0.1 {
			dir = 1
		} else if ctx.imbalance < -0.1 {
			dir = -1
		}
		inputs = append(inputs, SignalInput{Name: "orderbook", Weight: WeightFor(label, "orderbook"), Confidence: clamp01(abs(ctx.imbalance)), Direction: dir})
	}

	dir := 0
	if ctx.buyVolumeRatio > 0.55 {
		dir = 1
	} else if ctx.buyVolumeRatio < 0.45 {
		dir = -1
	}
	inputs = append(inputs, SignalInput{Name: "cvd", Weight: WeightFor(label, "cvd"), Confidence: clamp01(abs(ctx.buyVolumeRatio - 0.5) * 2), Direction: dir})

	if ctx.vpinOK {
		dir := 0
		if ctx.vpin > 0.70 {
			dir = -1 // toxic flow is treated as a cautionary, not directional, signal
		}
		inputs = append(inputs, SignalInput{Name: "vpin", Weight: WeightFor(label, "vpin"), Confidence: clamp01(ctx.vpin), Direction: dir})
	}

	return inputs
}

// absorptionCandlesOf converts the last up-to-20 closed candles into the
// shape the absorption detector needs, deriving each candle's CVD
// direction from its own taker-buy-vs-sell volume split — candles carry
// no separate CVD field, so the sign comes from which side of the tape
// dominated the bar.
func absorptionCandlesOf(candles []market.Candle) []AbsorptionCandle {
	n := len(candles)
	if n > 20 {
		candles = candles[n-20:]
	}
	out := make([]AbsorptionCandle, len(candles))
	for i, c := range candles {
		takerSellVol := c.Volume - c.TakerBuyVolume
		cvdDir := 0.0
		if c.TakerBuyVolume > takerSellVol {
			cvdDir = 1
		} else if c.TakerBuyVolume < takerSellVol {
			cvdDir = -1
		}
		out[i] = AbsorptionCandle{
			Open: c.Open, Close: c.Close, High: c.High, Low: c.Low,
			Volume: c.Volume, CVDDirection: cvdDir,
		}
	}
	return out
}

func closesOf(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highsLowsOf(candles []market.Candle) (highs, lows []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}
	return
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
