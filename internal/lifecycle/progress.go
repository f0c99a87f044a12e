package lifecycle

import (
	"time"

	"fx-trading-engine/internal/market"
)

// ComputeProgress measures a position's age and favorable excursion from
// the fine-timeframe candles elapsed since entry. MFE uses bar highs for
// longs and bar lows for shorts, normalized by the initial risk unit.
func ComputeProgress(pos *Position, candles []market.Candle, now time.Time) Progress {
	p := Progress{
		ElapsedHours: now.Sub(pos.OpenedAt).Hours(),
		RiskUnit:     pos.InitialRiskDistance,
	}
	if p.RiskUnit <= 0 {
		p.RiskUnit = abs(pos.EntryPrice - pos.InitialStopPrice)
	}

	best := 0.0
	for _, c := range candles {
		if c.OpenTime.Before(pos.OpenedAt) {
			continue
		}
		p.AgeBars++
		var excursion float64
		if pos.Long() {
			excursion = c.High - pos.EntryPrice
		} else {
			excursion = pos.EntryPrice - c.Low
		}
		if excursion > best {
			best = excursion
		}
	}

	if p.RiskUnit > 0 {
		p.MFER = best / p.RiskUnit
	}
	return p
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
