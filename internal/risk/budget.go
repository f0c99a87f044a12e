package risk

import (
	"fx-trading-engine/config"
	"fx-trading-engine/internal/market"
)

// ReasonCode tags a risk decision.
type ReasonCode string

const (
	ReasonPortfolioCapExceeded ReasonCode = "portfolio_risk_cap_exceeded"
	ReasonCurrencyCapExceeded  ReasonCode = "currency_risk_cap_exceeded"

	ReasonEventGateBlocked    ReasonCode = "event_gate_blocked"
	ReasonSpreadPipsAboveMax  ReasonCode = "spread_pips_above_max"
	ReasonSpreadToATRAboveMax ReasonCode = "spread_to_atr_above_max"
	ReasonSessionSpreadStress ReasonCode = "session_transition_spread_stress"
	ReasonRolloverBlackout    ReasonCode = "rollover_blackout"
	ReasonShockCooldownSet    ReasonCode = "volatility_shock_cooldown_set"
	ReasonShockCooldownActive ReasonCode = "shock_cooldown_active"
	ReasonCurrencyExposureCap ReasonCode = "currency_exposure_cap"
	ReasonChecksClear         ReasonCode = "risk_checks_clear"

	ReasonSizingFallback ReasonCode = "sizing_fallback_notional"
)

// BudgetResult is the cap-check outcome for a candidate entry.
type BudgetResult struct {
	Allowed bool         `json:"allowed"`
	Reasons []ReasonCode `json:"reasons,omitempty"`
}

// CheckBudget rejects a candidate risk allocation that would push
// portfolio usage past the portfolio cap or either leg currency past the
// currency cap. Each check applies only when its cap is configured
// positive; both reasons can fire together.
func CheckBudget(u Usage, pair market.Pair, candidatePct float64, cfg config.RiskConfig) BudgetResult {
	res := BudgetResult{Allowed: true}

	if cfg.PortfolioRiskCapPct > 0 && u.PortfolioOpenRiskPct+candidatePct > cfg.PortfolioRiskCapPct {
		res.Allowed = false
		res.Reasons = append(res.Reasons, ReasonPortfolioCapExceeded)
	}

	if cfg.CurrencyRiskCapPct > 0 {
		base, quote := pair.Currencies()
		for _, ccy := range []string{base, quote} {
			if u.CurrencyOpenRiskPct[ccy]+candidatePct > cfg.CurrencyRiskCapPct {
				res.Allowed = false
				res.Reasons = append(res.Reasons, ReasonCurrencyCapExceeded)
				break
			}
		}
	}
	return res
}
