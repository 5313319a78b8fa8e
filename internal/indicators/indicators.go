// Package indicators is a kernel of pure functions over closing-price and
// candle series. Every function returns an absent value (never a sentinel,
// never a non-finite float) when the input is too short or an intermediate
// computation would be non-finite.
package indicators

import "math"

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA returns the simple moving average of the last period closes.
func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	sum := 0.0
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		sum += closes[i]
	}
	return finite(sum / float64(period))
}

// EMA returns the full exponential-moving-average series starting at index
// period-1, seeded with the SMA of the first `period` values. m = 2/(period+1).
func EMA(closes []float64, period int) ([]float64, bool) {
	if period <= 0 || len(closes) < period {
		return nil, false
	}
	seed, ok := SMA(closes[:period], period)
	if !ok {
		return nil, false
	}

	m := 2.0 / float64(period+1)
	out := make([]float64, 0, len(closes)-period+1)
	out = append(out, seed)

	ema := seed
	for i := period; i < len(closes); i++ {
		ema = closes[i]*m + ema*(1-m)
		if !isFinite(ema) {
			return nil, false
		}
		out = append(out, ema)
	}
	return out, true
}

// EMALast returns only the most recent value of EMA(closes, period).
func EMALast(closes []float64, period int) (float64, bool) {
	series, ok := EMA(closes, period)
	if !ok || len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// ============================================================================
// RSI — Wilder's smoothing
// ============================================================================

// RSI computes the Relative Strength Index with Wilder's smoothing: the
// seed average gain/loss is the mean of the first `period` deltas, and each
// subsequent average is (prev*(period-1)+current)/period.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	gainSum, lossSum := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	switch {
	case avgGain == 0 && avgLoss == 0:
		return finite(50)
	case avgLoss == 0:
		return finite(100)
	default:
		rs := avgGain / avgLoss
		return finite(100 - 100/(1+rs))
	}
}

// ============================================================================
// ROC — rate of change
// ============================================================================

// ROC returns (close_t - close_{t-period}) / close_{t-period} * 100 for the
// most recent close against the close `period` bars back.
func ROC(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	last := closes[len(closes)-1]
	prior := closes[len(closes)-1-period]
	if prior == 0 {
		return 0, false
	}
	return finite((last - prior) / prior * 100)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finite(f float64) (float64, bool) {
	if !isFinite(f) {
		return 0, false
	}
	return f, true
}
