package modules

import (
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime"
)

// BreakoutRetest trades the three-candle sequence breakout -> retest ->
// confirmation beyond a recent range extreme.
type BreakoutRetest struct {
	cfg       config.ModulesConfig
	timeframe string
}

// NewBreakoutRetest creates the breakout-retest module.
func NewBreakoutRetest(cfg config.ModulesConfig, timeframe string) *BreakoutRetest {
	return &BreakoutRetest{cfg: cfg, timeframe: timeframe}
}

func (b *BreakoutRetest) Name() regime.Module { return regime.ModuleBreakoutRetest }

func (b *BreakoutRetest) Evaluate(packet *regime.Packet, snap *market.Snapshot, now time.Time) Result {
	if !packet.Allows(regime.ModuleBreakoutRetest) {
		return noTrade(ReasonNotAllowed)
	}
	if packet.Regime != regime.RegimeHighVol {
		return noTrade(ReasonRegimeMismatch)
	}

	minBars := b.cfg.BreakoutRangeBars + 3
	if b.cfg.ATRPeriod+1 > minBars {
		minBars = b.cfg.ATRPeriod + 1
	}
	candles, ok := fineCandles(snap, b.timeframe, minBars)
	if !ok {
		return noTrade(ReasonInsufficientHistory)
	}

	atrVal := atr(candles, b.cfg.ATRPeriod)
	if atrVal <= 0 {
		return noTrade(ReasonNoATR)
	}
	buffer := atrVal * b.cfg.BreakoutBufferATR

	// The range is measured before the three-candle sequence.
	seqStart := len(candles) - 3
	rangeFrom := seqStart - b.cfg.BreakoutRangeBars
	rangeHigh := highestHigh(candles, rangeFrom, seqStart)
	rangeLow := lowestLow(candles, rangeFrom, seqStart)
	c1, c2, c3 := candles[seqStart], candles[seqStart+1], candles[seqStart+2]

	if packet.AllowsSide(true) {
		if sig := b.longSequence(snap.Pair, packet, c1, c2, c3, rangeHigh, buffer); sig != nil {
			return Result{Signal: sig, Reasons: sig.ReasonCodes}
		}
	}
	if packet.AllowsSide(false) {
		if sig := b.shortSequence(snap.Pair, packet, c1, c2, c3, rangeLow, buffer); sig != nil {
			return Result{Signal: sig, Reasons: sig.ReasonCodes}
		}
	}
	return noTrade(ReasonNoTrigger)
}

// longSequence checks breakout above the range high: c1 closes beyond
// high+buffer, c2's low re-enters the buffer zone but c2 closes back
// outside it, c3 closes beyond both the range high and c2's close.
func (b *BreakoutRetest) longSequence(pair market.Pair, packet *regime.Packet, c1, c2, c3 market.Candle, rangeHigh, buffer float64) *Signal {
	edge := rangeHigh + buffer
	if c1.Close <= edge {
		return nil
	}
	if c2.Low > edge || c2.Close <= edge {
		return nil
	}
	if c3.Close <= rangeHigh || c3.Close <= c2.Close {
		return nil
	}

	// Tightest extreme of the sequence carries the stop.
	tight := c1.Low
	if c2.Low > tight {
		tight = c2.Low
	}
	if c3.Low > tight {
		tight = c3.Low
	}
	return &Signal{
		Pair:        pair,
		Module:      regime.ModuleBreakoutRetest,
		Side:        SideBuy,
		EntryPrice:  c3.Close,
		StopPrice:   tight - buffer,
		Confidence:  packet.Confidence,
		ReasonCodes: []ReasonCode{ReasonBreakoutConfirmed},
	}
}

// shortSequence mirrors longSequence below the range low.
func (b *BreakoutRetest) shortSequence(pair market.Pair, packet *regime.Packet, c1, c2, c3 market.Candle, rangeLow, buffer float64) *Signal {
	edge := rangeLow - buffer
	if c1.Close >= edge {
		return nil
	}
	if c2.High < edge || c2.Close >= edge {
		return nil
	}
	if c3.Close >= rangeLow || c3.Close >= c2.Close {
		return nil
	}

	tight := c1.High
	if c2.High < tight {
		tight = c2.High
	}
	if c3.High < tight {
		tight = c3.High
	}
	return &Signal{
		Pair:        pair,
		Module:      regime.ModuleBreakoutRetest,
		Side:        SideSell,
		EntryPrice:  c3.Close,
		StopPrice:   tight + buffer,
		Confidence:  packet.Confidence,
		ReasonCodes: []ReasonCode{ReasonBreakoutConfirmed},
	}
}
