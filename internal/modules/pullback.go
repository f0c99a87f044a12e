package modules

import (
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime"
)

// zoneTouchLookback is how many recent bars count as "recently touched"
// the between-EMA zone.
const zoneTouchLookback = 3

// Pullback trades continuation entries in an established trend: price
// pulls back toward the moving averages, then closes back through the
// fast one in the trend direction.
type Pullback struct {
	cfg       config.ModulesConfig
	timeframe string
}

// NewPullback creates the pullback module.
func NewPullback(cfg config.ModulesConfig, timeframe string) *Pullback {
	return &Pullback{cfg: cfg, timeframe: timeframe}
}

func (p *Pullback) Name() regime.Module { return regime.ModulePullback }

func (p *Pullback) Evaluate(packet *regime.Packet, snap *market.Snapshot, now time.Time) Result {
	if !packet.Allows(regime.ModulePullback) {
		return noTrade(ReasonNotAllowed)
	}

	var long bool
	switch packet.Regime {
	case regime.RegimeTrendUp:
		long = true
	case regime.RegimeTrendDown:
		long = false
	default:
		return noTrade(ReasonRegimeMismatch)
	}
	if !packet.AllowsSide(long) {
		return noTrade(ReasonSideNotPermitted)
	}

	minBars := p.cfg.PullbackSlowEMA + p.cfg.PullbackSwingBars
	candles, ok := fineCandles(snap, p.timeframe, minBars)
	if !ok {
		return noTrade(ReasonInsufficientHistory)
	}

	atrVal := atr(candles, p.cfg.ATRPeriod)
	if atrVal <= 0 {
		return noTrade(ReasonNoATR)
	}

	fast := emaSeries(candles, p.cfg.PullbackFastEMA)
	slow := emaSeries(candles, p.cfg.PullbackSlowEMA)
	last := len(candles) - 1

	trigger, code := p.trigger(candles, fast, slow, last, long)
	if !trigger {
		return noTrade(ReasonNoTrigger)
	}

	entry := candles[last].Close
	stop := p.stopPrice(candles, last, atrVal, long)

	side := SideSell
	if long {
		side = SideBuy
	}
	return Result{
		Signal: &Signal{
			Pair:        snap.Pair,
			Module:      regime.ModulePullback,
			Side:        side,
			EntryPrice:  entry,
			StopPrice:   stop,
			Confidence:  packet.Confidence,
			ReasonCodes: []ReasonCode{code},
		},
		Reasons: []ReasonCode{code},
	}
}

// trigger fires on a close crossing back through the fast EMA in the
// trend direction, or on a recent touch of the zone between the EMAs
// with the latest close back on the trend side.
func (p *Pullback) trigger(candles []market.Candle, fast, slow []float64, last int, long bool) (bool, ReasonCode) {
	prev := last - 1
	if long {
		if candles[prev].Close < fast[prev] && candles[last].Close > fast[last] {
			return true, ReasonPullbackCross
		}
	} else {
		if candles[prev].Close > fast[prev] && candles[last].Close < fast[last] {
			return true, ReasonPullbackCross
		}
	}

	if !onTrendSide(candles[last].Close, fast[last], long) {
		return false, ""
	}
	for i := last - zoneTouchLookback; i < last; i++ {
		if i < 0 {
			continue
		}
		lo, hi := orderBounds(fast[i], slow[i])
		touch := candles[i].Low
		if !long {
			touch = candles[i].High
		}
		if touch >= lo && touch <= hi {
			return true, ReasonPullbackZoneTouch
		}
	}
	return false, ""
}

// stopPrice places the stop beyond the recent swing extreme by an
// ATR-scaled buffer.
func (p *Pullback) stopPrice(candles []market.Candle, last int, atrVal float64, long bool) float64 {
	from := last - p.cfg.PullbackSwingBars
	if from < 0 {
		from = 0
	}
	buffer := atrVal * p.cfg.PullbackStopATR
	if long {
		return lowestLow(candles, from, last+1) - buffer
	}
	return highestHigh(candles, from, last+1) + buffer
}

func onTrendSide(close, fastEMA float64, long bool) bool {
	if long {
		return close > fastEMA
	}
	return close < fastEMA
}

func orderBounds(a, b float64) (float64, float64) {
	if a < b {
		return a, b
	}
	return b, a
}
