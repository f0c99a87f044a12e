package modules

import (
	"testing"
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime"
)

var modNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const tf = "5m"

func moduleConfig() config.ModulesConfig {
	return config.ModulesConfig{
		PullbackFastEMA:   8,
		PullbackSlowEMA:   21,
		PullbackSwingBars: 10,
		PullbackStopATR:   0.5,
		BreakoutRangeBars: 20,
		BreakoutBufferATR: 0.25,
		RangeBoundaryBars: 20,
		RangeMinWidthATR:  2.0,
		RangeMaxTrend:     0.40,
		RangeMinChop:      0.55,
		RangeKillATR:      0.75,
		RangeStopATR:      0.35,
		ATRPeriod:         14,
	}
}

func mkCandle(i int, o, h, l, c float64) market.Candle {
	return market.Candle{
		OpenTime: modNow.Add(time.Duration(i-100) * 5 * time.Minute),
		Open:     o, High: h, Low: l, Close: c,
		Volume: 1000,
	}
}

func snapshotWith(pair market.Pair, candles []market.Candle, metrics market.PairMetrics) *market.Snapshot {
	return &market.Snapshot{
		Pair:    pair,
		Book:    market.BookTop{Bid: candles[len(candles)-1].Close - 0.0001, Ask: candles[len(candles)-1].Close + 0.0001, Time: modNow},
		Candles: map[string][]market.Candle{tf: candles},
		Metrics: metrics,
	}
}

func trendPacket(r regime.Regime, perm regime.Permission, mod regime.Module) *regime.Packet {
	return &regime.Packet{
		Pair:           "EURUSD",
		GeneratedAt:    modNow,
		Regime:         r,
		Permission:     perm,
		AllowedModules: []regime.Module{mod},
		RiskState:      regime.RiskStateNormal,
		Confidence:     0.8,
	}
}

// uptrend, sharp pullback, strong recovery close back through the fast EMA.
func pullbackLongCandles() []market.Candle {
	var out []market.Candle
	for i := 0; i < 30; i++ {
		c := 1.0 + float64(i)*0.001
		out = append(out, mkCandle(i, c-0.0005, c+0.0005, c-0.0010, c))
	}
	dips := []float64{1.020, 1.012, 1.005, 1.000}
	for j, c := range dips {
		out = append(out, mkCandle(30+j, c+0.003, c+0.004, c-0.0005, c))
	}
	out = append(out, mkCandle(34, 1.001, 1.031, 0.999, 1.030))
	return out
}

func TestPullbackLongCrossSignal(t *testing.T) {
	m := NewPullback(moduleConfig(), tf)
	packet := trendPacket(regime.RegimeTrendUp, regime.PermissionLongOnly, regime.ModulePullback)
	snap := snapshotWith("EURUSD", pullbackLongCandles(), market.PairMetrics{Pair: "EURUSD"})

	res := m.Evaluate(packet, snap, modNow)
	if res.Signal == nil {
		t.Fatalf("expected signal, reasons = %v", res.Reasons)
	}
	sig := res.Signal
	if sig.Side != SideBuy || sig.Module != regime.ModulePullback {
		t.Errorf("got %s/%s", sig.Side, sig.Module)
	}
	if sig.EntryPrice != 1.030 {
		t.Errorf("entry = %v, want last close", sig.EntryPrice)
	}
	if sig.StopPrice >= 0.999 {
		t.Errorf("stop %v must sit below the swing low with buffer", sig.StopPrice)
	}
	if sig.Confidence != packet.Confidence {
		t.Errorf("signal confidence %v should carry the packet's", sig.Confidence)
	}
}

func TestPullbackRespectsGates(t *testing.T) {
	m := NewPullback(moduleConfig(), tf)
	snap := snapshotWith("EURUSD", pullbackLongCandles(), market.PairMetrics{Pair: "EURUSD"})

	notAllowed := trendPacket(regime.RegimeTrendUp, regime.PermissionLongOnly, regime.ModuleRangeFade)
	if res := m.Evaluate(notAllowed, snap, modNow); res.Signal != nil || res.Reasons[0] != ReasonNotAllowed {
		t.Errorf("disallowed module fired: %+v", res)
	}

	wrongRegime := trendPacket(regime.RegimeRange, regime.PermissionBoth, regime.ModulePullback)
	if res := m.Evaluate(wrongRegime, snap, modNow); res.Signal != nil || res.Reasons[0] != ReasonRegimeMismatch {
		t.Errorf("range regime fired pullback: %+v", res)
	}

	wrongSide := trendPacket(regime.RegimeTrendUp, regime.PermissionShortOnly, regime.ModulePullback)
	if res := m.Evaluate(wrongSide, snap, modNow); res.Signal != nil || res.Reasons[0] != ReasonSideNotPermitted {
		t.Errorf("short-only permission fired a long: %+v", res)
	}
}

func TestPullbackInsufficientHistory(t *testing.T) {
	m := NewPullback(moduleConfig(), tf)
	packet := trendPacket(regime.RegimeTrendUp, regime.PermissionLongOnly, regime.ModulePullback)
	snap := snapshotWith("EURUSD", pullbackLongCandles()[:10], market.PairMetrics{Pair: "EURUSD"})

	res := m.Evaluate(packet, snap, modNow)
	if res.Signal != nil || res.Reasons[0] != ReasonInsufficientHistory {
		t.Errorf("got %+v", res)
	}
}

// flat 20-bar range then the breakout / retest / confirmation sequence.
func breakoutLongCandles() []market.Candle {
	var out []market.Candle
	for i := 0; i < 20; i++ {
		c := 1.0000
		if i%2 == 0 {
			c = 1.0050
		}
		out = append(out, mkCandle(i, c, 1.0100, 0.9900, c))
	}
	out = append(out, mkCandle(20, 1.0050, 1.0210, 1.0080, 1.0200)) // breakout
	out = append(out, mkCandle(21, 1.0200, 1.0205, 1.0120, 1.0160)) // retest
	out = append(out, mkCandle(22, 1.0160, 1.0255, 1.0150, 1.0250)) // confirmation
	return out
}

func TestBreakoutRetestLongSequence(t *testing.T) {
	m := NewBreakoutRetest(moduleConfig(), tf)
	packet := trendPacket(regime.RegimeHighVol, regime.PermissionBoth, regime.ModuleBreakoutRetest)
	snap := snapshotWith("EURUSD", breakoutLongCandles(), market.PairMetrics{Pair: "EURUSD"})

	res := m.Evaluate(packet, snap, modNow)
	if res.Signal == nil {
		t.Fatalf("expected signal, reasons = %v", res.Reasons)
	}
	sig := res.Signal
	if sig.Side != SideBuy {
		t.Errorf("side = %s, want BUY", sig.Side)
	}
	if sig.EntryPrice != 1.0250 {
		t.Errorf("entry = %v, want confirmation close", sig.EntryPrice)
	}
	// Stop hangs off the tightest sequence low (the confirmation candle's).
	if sig.StopPrice >= 1.0150 || sig.StopPrice <= 1.0000 {
		t.Errorf("stop = %v, want just below 1.0150", sig.StopPrice)
	}
}

func TestBreakoutNoSequenceNoSignal(t *testing.T) {
	m := NewBreakoutRetest(moduleConfig(), tf)
	packet := trendPacket(regime.RegimeHighVol, regime.PermissionBoth, regime.ModuleBreakoutRetest)

	candles := breakoutLongCandles()
	// Break the confirmation candle: closes below the retest close.
	candles[22] = mkCandle(22, 1.0160, 1.0180, 1.0100, 1.0120)
	snap := snapshotWith("EURUSD", candles, market.PairMetrics{Pair: "EURUSD"})

	res := m.Evaluate(packet, snap, modNow)
	if res.Signal != nil {
		t.Errorf("incomplete sequence fired: %+v", res.Signal)
	}
	if res.Reasons[0] != ReasonNoTrigger {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

// slow triangle oscillation between ~1.000 and ~1.020.
func rangeBaseCandles(n int) []market.Candle {
	var out []market.Candle
	for i := 0; i < n; i++ {
		phase := i % 20
		var c float64
		if phase < 10 {
			c = 1.001 + 0.002*float64(phase)
		} else {
			c = 1.019 - 0.002*float64(phase-10)
		}
		out = append(out, mkCandle(i, c-0.001, c+0.0015, c-0.0015, c))
	}
	return out
}

func rangeMetrics() market.PairMetrics {
	return market.PairMetrics{Pair: "EURUSD", TrendStrength: 0.2, ChopScore: 0.7}
}

func TestRangeFadeRejectionAtUpperBoundary(t *testing.T) {
	m := NewRangeFade(moduleConfig(), tf)
	packet := trendPacket(regime.RegimeRange, regime.PermissionBoth, regime.ModuleRangeFade)

	candles := rangeBaseCandles(30)
	candles = append(candles, mkCandle(30, 1.0190, 1.0210, 1.0185, 1.0195)) // probes the boundary
	candles = append(candles, mkCandle(31, 1.0195, 1.0208, 1.0140, 1.0150)) // rejects back inside
	snap := snapshotWith("EURUSD", candles, rangeMetrics())

	res := m.Evaluate(packet, snap, modNow)
	if res.Signal == nil {
		t.Fatalf("expected fade signal, reasons = %v", res.Reasons)
	}
	if res.KillSwitch {
		t.Fatal("rejection must not trip the kill-switch")
	}
	sig := res.Signal
	if sig.Side != SideSell {
		t.Errorf("side = %s, want SELL", sig.Side)
	}
	if sig.StopPrice <= 1.0205 {
		t.Errorf("stop = %v, want beyond the upper boundary", sig.StopPrice)
	}
}

func TestRangeFadeKillSwitchOnHardBreakout(t *testing.T) {
	m := NewRangeFade(moduleConfig(), tf)
	packet := trendPacket(regime.RegimeRange, regime.PermissionBoth, regime.ModuleRangeFade)

	candles := rangeBaseCandles(30)
	candles = append(candles, mkCandle(30, 1.0190, 1.0210, 1.0185, 1.0195))
	candles = append(candles, mkCandle(31, 1.0200, 1.0320, 1.0195, 1.0300)) // well past the boundary
	snap := snapshotWith("EURUSD", candles, rangeMetrics())

	res := m.Evaluate(packet, snap, modNow)
	if !res.KillSwitch {
		t.Fatalf("expected kill-switch, got %+v", res)
	}
	if res.Signal != nil {
		t.Error("kill-switch must not carry a signal")
	}
	if res.Reasons[0] != ReasonRangeKillSwitch {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestRangeFadeStructureGates(t *testing.T) {
	cfg := moduleConfig()
	packet := trendPacket(regime.RegimeRange, regime.PermissionBoth, regime.ModuleRangeFade)
	candles := rangeBaseCandles(32)

	trendy := rangeMetrics()
	trendy.TrendStrength = 0.6
	if res := NewRangeFade(cfg, tf).Evaluate(packet, snapshotWith("EURUSD", candles, trendy), modNow); res.Reasons[0] != ReasonRangeTrendTooHigh {
		t.Errorf("trendy market: %v", res.Reasons)
	}

	smooth := rangeMetrics()
	smooth.ChopScore = 0.3
	if res := NewRangeFade(cfg, tf).Evaluate(packet, snapshotWith("EURUSD", candles, smooth), modNow); res.Reasons[0] != ReasonRangeChopTooLow {
		t.Errorf("smooth market: %v", res.Reasons)
	}

	narrow := cfg
	narrow.RangeMinWidthATR = 50
	if res := NewRangeFade(narrow, tf).Evaluate(packet, snapshotWith("EURUSD", candles, rangeMetrics()), modNow); res.Reasons[0] != ReasonRangeTooNarrow {
		t.Errorf("narrow range: %v", res.Reasons)
	}
}
