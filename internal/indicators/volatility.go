package indicators

import "math"

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerResult carries the three bands plus the normalized bandwidth.
type BollingerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
	BBW    float64 // (upper-lower)/middle * 100
}

// Bollinger computes SMA(period) +/- k standard deviations.
func Bollinger(closes []float64, period int, k float64) (BollingerResult, bool) {
	if period <= 0 || len(closes) < period {
		return BollingerResult{}, false
	}
	window := closes[len(closes)-period:]

	mean, ok := SMA(closes, period)
	if !ok {
		return BollingerResult{}, false
	}

	variance := 0.0
	for _, c := range window {
		d := c - mean
		variance += d * d
	}
	variance /= float64(period)
	stddev := math.Sqrt(variance)

	upper := mean + k*stddev
	lower := mean - k*stddev
	if mean == 0 {
		return BollingerResult{}, false
	}
	bbw := (upper - lower) / mean * 100

	if !isFinite(upper) || !isFinite(lower) || !isFinite(bbw) {
		return BollingerResult{}, false
	}
	return BollingerResult{Upper: upper, Middle: mean, Lower: lower, BBW: bbw}, true
}

// ============================================================================
// TRUE RANGE / ATR — Wilder's smoothing
// ============================================================================

// TrueRange returns the true range for bar i given the prior close.
func trueRange(high, low, prevClose float64) float64 {
	hl := high - low
	hc := math.Abs(high - prevClose)
	lc := math.Abs(low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR computes the Wilder-smoothed average true range over `period` bars.
// highs/lows/closes must be equal length, oldest first.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 ||
		len(highs) != len(closes) || len(lows) != len(closes) {
		return 0, false
	}

	trs := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		trs = append(trs, trueRange(highs[i], lows[i], closes[i-1]))
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += trs[i]
	}
	atr := sum / float64(period)

	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return finite(atr)
}

// ============================================================================
// ADX — Wilder's smoothing of +DM/-DM/TR, requires 2*period+1 candles
// ============================================================================

// ADX computes the directional-movement index using Wilder's smoothing of
// +DM, -DM and TR. highs/lows/closes must be equal length, oldest first,
// and at least 2*period+1 long.
func ADX(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < 2*period+1 ||
		len(highs) != n || len(lows) != n {
		return 0, false
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]

		switch {
		case upMove > downMove && upMove > 0:
			plusDM[i] = upMove
		default:
			plusDM[i] = 0
		}
		switch {
		case downMove > upMove && downMove > 0:
			minusDM[i] = downMove
		default:
			minusDM[i] = 0
		}
		tr[i] = trueRange(highs[i], lows[i], closes[i-1])
	}

	// Seed smoothed sums over the first `period` values (indices 1..period).
	smPlusDM, smMinusDM, smTR := 0.0, 0.0, 0.0
	for i := 1; i <= period; i++ {
		smPlusDM += plusDM[i]
		smMinusDM += minusDM[i]
		smTR += tr[i]
	}

	dxs := make([]float64, 0, n)
	appendDX := func(pDM, mDM, atr float64) {
		if atr == 0 {
			return
		}
		plusDI := 100 * pDM / atr
		minusDI := 100 * mDM / atr
		sum := plusDI + minusDI
		if sum == 0 {
			dxs = append(dxs, 0)
			return
		}
		dx := 100 * math.Abs(plusDI-minusDI) / sum
		dxs = append(dxs, dx)
	}
	appendDX(smPlusDM, smMinusDM, smTR)

	for i := period + 1; i < n; i++ {
		smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM[i]
		smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM[i]
		smTR = smTR - smTR/float64(period) + tr[i]
		appendDX(smPlusDM, smMinusDM, smTR)
	}

	if len(dxs) < period {
		return 0, false
	}

	// ADX is the Wilder-smoothed average of DX, seeded by the mean of the
	// first `period` DX values.
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += dxs[i]
	}
	adx := sum / float64(period)
	for i := period; i < len(dxs); i++ {
		adx = (adx*float64(period-1) + dxs[i]) / float64(period)
	}
	return finite(adx)
}
