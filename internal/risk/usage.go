// Package risk computes open-risk usage, enforces risk budgets, sizes
// new positions, and runs the pre-trade check battery.
package risk

import (
	"math"

	"fx-trading-engine/internal/market"
)

// OpenPosition is the slice of a live position the risk engine needs.
type OpenPosition struct {
	Pair       market.Pair `json:"pair"`
	EntryPrice float64     `json:"entry_price"`
	StopPrice  float64     `json:"stop_price"`
	Size       float64     `json:"size"` // base-currency units
	Notional   float64     `json:"notional"`
}

// Usage is the open-risk aggregate for one execution cycle. Always
// derived fresh from live positions, never persisted.
type Usage struct {
	PortfolioOpenRiskPct float64                 `json:"portfolio_open_risk_pct"`
	CurrencyOpenRiskPct  map[string]float64      `json:"currency_open_risk_pct"`
	PairOpenRiskPct      map[market.Pair]float64 `json:"pair_open_risk_pct"`
	UnknownRiskPairs     []market.Pair           `json:"unknown_risk_pairs,omitempty"`
}

// ComputeUsage aggregates per-position risk into portfolio, currency and
// pair totals. A position's risk is |entry-stop| * size / equity * 100
// when every input is finite and positive; otherwise the configured
// fallback percentage applies, and with no fallback the pair is marked
// unknown and excluded from the sums.
func ComputeUsage(positions []OpenPosition, equity, fallbackPct float64) Usage {
	u := Usage{
		CurrencyOpenRiskPct: make(map[string]float64),
		PairOpenRiskPct:     make(map[market.Pair]float64),
	}

	for _, pos := range positions {
		pct, ok := positionRiskPct(pos, equity)
		if !ok {
			if fallbackPct > 0 {
				pct = fallbackPct
			} else {
				u.UnknownRiskPairs = append(u.UnknownRiskPairs, pos.Pair)
				continue
			}
		}

		u.PortfolioOpenRiskPct += pct
		u.PairOpenRiskPct[pos.Pair] += pct
		base, quote := pos.Pair.Currencies()
		u.CurrencyOpenRiskPct[base] += pct
		u.CurrencyOpenRiskPct[quote] += pct
	}
	return u
}

func positionRiskPct(pos OpenPosition, equity float64) (float64, bool) {
	if !finitePositive(pos.EntryPrice) || !finitePositive(pos.StopPrice) ||
		!finitePositive(pos.Size) || !finitePositive(equity) {
		return 0, false
	}
	dist := math.Abs(pos.EntryPrice - pos.StopPrice)
	if !finitePositive(dist) {
		return 0, false
	}
	return dist * pos.Size / equity * 100, true
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
