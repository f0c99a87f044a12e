package modules

import (
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime"
)

// RangeFade fades rejections at the boundaries of an established range.
// A hard breakout beyond the boundary is a kill-switch: no signal, and
// the caller suspends this module for the pair until the next regime
// window.
type RangeFade struct {
	cfg       config.ModulesConfig
	timeframe string
}

// NewRangeFade creates the range-fade module.
func NewRangeFade(cfg config.ModulesConfig, timeframe string) *RangeFade {
	return &RangeFade{cfg: cfg, timeframe: timeframe}
}

func (r *RangeFade) Name() regime.Module { return regime.ModuleRangeFade }

func (r *RangeFade) Evaluate(packet *regime.Packet, snap *market.Snapshot, now time.Time) Result {
	if !packet.Allows(regime.ModuleRangeFade) {
		return noTrade(ReasonNotAllowed)
	}
	if packet.Regime != regime.RegimeRange {
		return noTrade(ReasonRegimeMismatch)
	}
	if snap.Metrics.TrendStrength >= r.cfg.RangeMaxTrend {
		return noTrade(ReasonRangeTrendTooHigh)
	}
	if snap.Metrics.ChopScore < r.cfg.RangeMinChop {
		return noTrade(ReasonRangeChopTooLow)
	}

	minBars := r.cfg.RangeBoundaryBars + 2
	if r.cfg.ATRPeriod+1 > minBars {
		minBars = r.cfg.ATRPeriod + 1
	}
	candles, ok := fineCandles(snap, r.timeframe, minBars)
	if !ok {
		return noTrade(ReasonInsufficientHistory)
	}

	atrVal := atr(candles, r.cfg.ATRPeriod)
	if atrVal <= 0 {
		return noTrade(ReasonNoATR)
	}

	// Boundaries come from the bars before the last two candles so the
	// rejection pattern itself does not move them.
	last := len(candles) - 1
	from := last - 1 - r.cfg.RangeBoundaryBars
	if from < 0 {
		from = 0
	}
	rangeHigh := highestHigh(candles, from, last-1)
	rangeLow := lowestLow(candles, from, last-1)

	if (rangeHigh-rangeLow)/atrVal < r.cfg.RangeMinWidthATR {
		return noTrade(ReasonRangeTooNarrow)
	}

	cur, prev := candles[last], candles[last-1]

	// Hard breakout voids the range assumption entirely.
	killDist := atrVal * r.cfg.RangeKillATR
	if cur.Close > rangeHigh+killDist || cur.Close < rangeLow-killDist {
		return Result{KillSwitch: true, Reasons: []ReasonCode{ReasonRangeKillSwitch}}
	}

	stopDist := atrVal * r.cfg.RangeStopATR
	if packet.AllowsSide(false) && rejectsBoundary(cur, prev, rangeHigh, true) {
		return fadeResult(snap.Pair, packet, SideSell, cur.Close, rangeHigh+stopDist)
	}
	if packet.AllowsSide(true) && rejectsBoundary(cur, prev, rangeLow, false) {
		return fadeResult(snap.Pair, packet, SideBuy, cur.Close, rangeLow-stopDist)
	}
	return noTrade(ReasonNoTrigger)
}

// rejectsBoundary detects a rejection candle: the current bar touches
// the boundary and closes back inside, with the previous bar at or
// through the boundary.
func rejectsBoundary(cur, prev market.Candle, boundary float64, upper bool) bool {
	if upper {
		return cur.High >= boundary && cur.Close < boundary && prev.High >= boundary
	}
	return cur.Low <= boundary && cur.Close > boundary && prev.Low <= boundary
}

func fadeResult(pair market.Pair, packet *regime.Packet, side Side, entry, stop float64) Result {
	sig := &Signal{
		Pair:        pair,
		Module:      regime.ModuleRangeFade,
		Side:        side,
		EntryPrice:  entry,
		StopPrice:   stop,
		Confidence:  packet.Confidence,
		ReasonCodes: []ReasonCode{ReasonRangeRejectionFade},
	}
	return Result{Signal: sig, Reasons: sig.ReasonCodes}
}
