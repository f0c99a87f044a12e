// Package modules holds the three deterministic signal generators:
// pullback continuation, breakout-retest, and range-fade. Each module is
// a pure function of (packet, market snapshot, now) and emits at most
// one signal per evaluation.
package modules

import "fx-trading-engine/internal/market"

// emaSeries computes an exponential moving average over closes. The
// result is aligned with the input; entries before the first full
// period are seeded from the running mean.
func emaSeries(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) == 0 {
		return nil
	}
	out := make([]float64, len(candles))
	k := 2.0 / float64(period+1)
	out[0] = candles[0].Close
	for i := 1; i < len(candles); i++ {
		out[i] = candles[i].Close*k + out[i-1]*(1-k)
	}
	return out
}

// atr computes the average true range over the trailing period bars.
func atr(candles []market.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	sum := 0.0
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		sum += trueRange(candles[i], candles[i-1])
	}
	return sum / float64(period)
}

func trueRange(c, prev market.Candle) float64 {
	tr := c.High - c.Low
	if d := abs(c.High - prev.Close); d > tr {
		tr = d
	}
	if d := abs(c.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

// highestHigh returns the max high over candles[from:to).
func highestHigh(candles []market.Candle, from, to int) float64 {
	h := candles[from].High
	for i := from + 1; i < to; i++ {
		if candles[i].High > h {
			h = candles[i].High
		}
	}
	return h
}

// lowestLow returns the min low over candles[from:to).
func lowestLow(candles []market.Candle, from, to int) float64 {
	l := candles[from].Low
	for i := from + 1; i < to; i++ {
		if candles[i].Low < l {
			l = candles[i].Low
		}
	}
	return l
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
