package modules

import (
	"time"

	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime"
)

// Side is a trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ReasonCode tags a module evaluation outcome.
type ReasonCode string

const (
	ReasonNotAllowed          ReasonCode = "module_not_allowed"
	ReasonInsufficientHistory ReasonCode = "insufficient_history"
	ReasonRegimeMismatch      ReasonCode = "regime_mismatch"
	ReasonSideNotPermitted    ReasonCode = "side_not_permitted"
	ReasonNoTrigger           ReasonCode = "no_trigger"
	ReasonNoATR               ReasonCode = "atr_unavailable"

	ReasonPullbackCross     ReasonCode = "pullback_ema_cross"
	ReasonPullbackZoneTouch ReasonCode = "pullback_zone_touch"

	ReasonBreakoutConfirmed ReasonCode = "breakout_retest_confirmed"

	ReasonRangeTooNarrow     ReasonCode = "range_too_narrow"
	ReasonRangeTrendTooHigh  ReasonCode = "range_trend_too_strong"
	ReasonRangeChopTooLow    ReasonCode = "range_chop_too_low"
	ReasonRangeKillSwitch    ReasonCode = "range_breakout_kill_switch"
	ReasonRangeRejectionFade ReasonCode = "range_rejection_fade"
)

// Signal is a module's trade proposal.
type Signal struct {
	Pair        market.Pair   `json:"pair"`
	Module      regime.Module `json:"module"`
	Side        Side          `json:"side"`
	EntryPrice  float64       `json:"entry_price"`
	StopPrice   float64       `json:"stop_price"`
	Confidence  float64       `json:"confidence"`
	ReasonCodes []ReasonCode  `json:"reason_codes"`
}

// Result is one module evaluation. Signal is nil on no-trade; KillSwitch
// asks the caller to suspend the module for this pair for a cooldown.
type Result struct {
	Signal     *Signal      `json:"signal,omitempty"`
	KillSwitch bool         `json:"kill_switch,omitempty"`
	Reasons    []ReasonCode `json:"reasons"`
}

// Module is a deterministic signal generator.
type Module interface {
	Name() regime.Module
	Evaluate(packet *regime.Packet, snap *market.Snapshot, now time.Time) Result
}

func noTrade(reasons ...ReasonCode) Result {
	return Result{Reasons: reasons}
}

// fineCandles pulls the module timeframe series out of a snapshot.
func fineCandles(snap *market.Snapshot, timeframe string, minBars int) ([]market.Candle, bool) {
	candles := snap.Candles[timeframe]
	if len(candles) < minBars {
		return nil, false
	}
	return candles, true
}
