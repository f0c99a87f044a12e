package risk

import (
	"math"

	"fx-trading-engine/config"
)

// SizeDecision is the sizing outcome for a candidate entry.
type SizeDecision struct {
	Notional float64      `json:"notional"`
	Leverage int          `json:"leverage"`
	RiskPct  float64      `json:"risk_pct"`
	Fallback bool         `json:"fallback"`
	Reasons  []ReasonCode `json:"reasons,omitempty"`
}

// LeverageFor maps classifier confidence to leverage, capped by config.
func LeverageFor(confidence float64, cfg config.RiskConfig) int {
	lev := 1
	switch {
	case confidence >= 0.85:
		lev = 3
	case confidence >= 0.68:
		lev = 2
	}
	if cfg.MaxLeverage > 0 && lev > cfg.MaxLeverage {
		lev = cfg.MaxLeverage
	}
	return lev
}

// ComputeSize produces the notional for a candidate entry. The primary
// path risks RiskPerTradePct of equity against the stop distance; when
// any input is unusable it degrades to the configured flat notional and
// tags the decision. A zero size is never returned silently.
func ComputeSize(equity, confidence, entryPrice, stopPrice float64, cfg config.RiskConfig) SizeDecision {
	d := SizeDecision{
		Leverage: LeverageFor(confidence, cfg),
		RiskPct:  cfg.RiskPerTradePct,
	}

	stopDist := math.Abs(entryPrice - stopPrice)
	if finitePositive(equity) && finitePositive(cfg.RiskPerTradePct) &&
		finitePositive(stopDist) && finitePositive(entryPrice) &&
		finitePositive(cfg.FallbackNotional) {
		units := equity * cfg.RiskPerTradePct / 100 / stopDist
		d.Notional = units * entryPrice / float64(d.Leverage)
		if finitePositive(d.Notional) {
			return d
		}
	}

	d.Notional = cfg.FallbackNotional
	d.Fallback = true
	d.RiskPct = cfg.FallbackRiskPct
	d.Reasons = append(d.Reasons, ReasonSizingFallback)
	return d
}
