package indicators

import (
	"math"

	"optionsPilot/internal/domain"
)

// SMA computes the simple moving average of the last period closes.
// Returns false when there is not enough data.
func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	total := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		total += closes[i]
	}
	return total / float64(period), true
}

// EMA computes the exponential moving average over the closes, seeded with
// the SMA of the first period values.
func EMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	seed, _ := SMA(closes[:period], period)
	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(closes); i++ {
		ema = (closes[i]-ema)*multiplier + ema
	}
	return ema, true
}

// ATR computes the Average True Range over the candles using Wilder's
// smoothing. Returns false when fewer than period+1 candles are available.
func ATR(candles []*domain.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	trueRanges := make([]float64, len(candles))
	trueRanges[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		// True Range is the greatest of: high-low, |high-prevClose|, |low-prevClose|.
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges[i] = tr
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)
	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr, true
}
