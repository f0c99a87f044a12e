package lifecycle

import (
	"testing"
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/modules"
	"fx-trading-engine/internal/regime"
)

var openedAt = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func testManager() *Manager {
	return NewManager(config.LifecycleConfig{
		NoFollowThroughBars: 18,
		MinFollowThroughR:   0.3,
		MaxHoldHours:        48,
		EventLockMins:       90,
		RegimeFlipLockMins:  60,
		TimeStopLockMins:    45,
		StopLockMins:        30,
	}, logging.Default())
}

func longPosition() *Position {
	return &Position{
		Pair:                "EURUSD",
		Side:                modules.SideBuy,
		EntryModule:         regime.ModulePullback,
		EntryPrice:          1.0000,
		InitialStopPrice:    0.9950,
		CurrentStopPrice:    0.9950,
		InitialRiskDistance: 0.0050,
		Size:                10000,
		OpenedAt:            openedAt,
	}
}

func trendUpPacket() *regime.Packet {
	return &regime.Packet{
		Pair:           "EURUSD",
		GeneratedAt:    openedAt,
		Regime:         regime.RegimeTrendUp,
		Permission:     regime.PermissionLongOnly,
		AllowedModules: []regime.Module{regime.ModulePullback},
		RiskState:      regime.RiskStateNormal,
		Confidence:     0.8,
	}
}

// barsWithHigh builds n five-minute bars from openedAt, all peaking at
// the given high.
func barsWithHigh(n int, high float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			OpenTime: openedAt.Add(time.Duration(i) * 5 * time.Minute),
			Open:     1.0000, High: high, Low: 0.9990, Close: 1.0000,
		}
	}
	return out
}

func snapWithBook(bid, ask float64, candles []market.Candle) *market.Snapshot {
	return &market.Snapshot{
		Pair:    "EURUSD",
		Book:    market.BookTop{Bid: bid, Ask: ask, Time: openedAt},
		Candles: map[string][]market.Candle{"5m": candles},
	}
}

func TestLongStopInvalidatesOnBidNotMid(t *testing.T) {
	m := testManager()
	pos := longPosition()
	// Bid below the stop while the mid is still above it.
	snap := snapWithBook(0.9948, 0.9960, nil)
	if mid := snap.Book.Mid(); mid <= pos.CurrentStopPrice {
		t.Fatalf("fixture broken: mid %v must sit above the stop", mid)
	}

	d := m.Evaluate(pos, trendUpPacket(), false, snap, openedAt.Add(time.Hour))
	if d.Action != ActionClose || d.ReasonCodes[0] != ReasonStopInvalidatedLong {
		t.Errorf("got %+v, want long stop invalidation", d)
	}
}

func TestShortStopInvalidatesOnOfferNotMid(t *testing.T) {
	m := testManager()
	pos := longPosition()
	pos.Side = modules.SideSell
	pos.EntryPrice = 1.0000
	pos.InitialStopPrice = 1.0050
	pos.CurrentStopPrice = 1.0050

	// Offer above the stop while the mid is still below it.
	snap := snapWithBook(1.0040, 1.0052, nil)
	if mid := snap.Book.Mid(); mid >= pos.CurrentStopPrice {
		t.Fatalf("fixture broken: mid %v must sit below the stop", mid)
	}

	d := m.Evaluate(pos, trendUpPacket(), false, snap, openedAt.Add(time.Hour))
	if d.Action != ActionClose || d.ReasonCodes[0] != ReasonStopInvalidatedShort {
		t.Errorf("got %+v, want short stop invalidation", d)
	}
}

func TestStopHoldsWhenBidAboveStop(t *testing.T) {
	m := testManager()
	d := m.Evaluate(longPosition(), trendUpPacket(), false, snapWithBook(0.9951, 0.9953, nil), openedAt.Add(time.Hour))
	if d.Action != ActionWait {
		t.Errorf("got %+v, want WAIT", d)
	}
}

func TestStructuralInvalidationWithoutBook(t *testing.T) {
	m := testManager()
	pos := longPosition()
	packet := trendUpPacket()
	packet.Regime = regime.RegimeTrendDown
	packet.Permission = regime.PermissionFlat
	snap := snapWithBook(0, 0, nil) // no usable book

	d := m.Evaluate(pos, packet, false, snap, openedAt.Add(time.Hour))
	if d.Action != ActionClose || d.ReasonCodes[0] != ReasonStructuralInvalid {
		t.Errorf("got %+v, want structural invalidation", d)
	}

	// A stale packet must not drive structural closes.
	d = m.Evaluate(pos, packet, true, snap, openedAt.Add(time.Hour))
	if d.Action != ActionWait {
		t.Errorf("stale packet closed the position: %+v", d)
	}
}

func TestNoFollowThroughBoundary(t *testing.T) {
	m := testManager()
	// mfeR = 0.2999: high at entry + 0.2999 * R.
	high := 1.0000 + 0.0050*0.2999

	d := m.Evaluate(longPosition(), trendUpPacket(), false,
		snapWithBook(1.0000, 1.0002, barsWithHigh(18, high)), openedAt.Add(2*time.Hour))
	if d.Action != ActionClose || d.ReasonCodes[0] != ReasonNoFollowThrough {
		t.Errorf("ageBars=18 mfeR=0.2999: got %+v, want close", d)
	}

	d = m.Evaluate(longPosition(), trendUpPacket(), false,
		snapWithBook(1.0000, 1.0002, barsWithHigh(17, high)), openedAt.Add(2*time.Hour))
	if d.Action != ActionWait {
		t.Errorf("ageBars=17: got %+v, want WAIT", d)
	}

	// Enough follow-through clears the check at any age.
	d = m.Evaluate(longPosition(), trendUpPacket(), false,
		snapWithBook(1.0000, 1.0002, barsWithHigh(18, 1.0000+0.0050*0.31)), openedAt.Add(2*time.Hour))
	if d.Action != ActionWait {
		t.Errorf("mfeR=0.31: got %+v, want WAIT", d)
	}
}

func TestMaxHoldWithTrailingException(t *testing.T) {
	m := testManager()
	at := openedAt.Add(48 * time.Hour) // exactly max hold
	book := snapWithBook(1.0100, 1.0102, nil)

	pos := longPosition()
	pos.TrailingActive = true
	d := m.Evaluate(pos, trendUpPacket(), false, book, at)
	if d.Action != ActionWait || d.ReasonCodes[0] != ReasonMaxHoldExempt {
		t.Errorf("aligned+trailing: got %+v, want exempt WAIT", d)
	}

	// Not trend-aligned: the exception does not apply.
	pos = longPosition()
	pos.TrailingActive = true
	rangePacket := trendUpPacket()
	rangePacket.Regime = regime.RegimeRange
	d = m.Evaluate(pos, rangePacket, false, book, at)
	if d.Action != ActionClose || d.ReasonCodes[0] != ReasonMaxHold {
		t.Errorf("not aligned: got %+v, want max-hold close", d)
	}

	// Aligned but no trailing stop: closes too.
	pos = longPosition()
	d = m.Evaluate(pos, trendUpPacket(), false, book, at)
	if d.Action != ActionClose || d.ReasonCodes[0] != ReasonMaxHold {
		t.Errorf("no trailing: got %+v, want max-hold close", d)
	}
}

func TestTP1TrimMovesStopToBreakeven(t *testing.T) {
	m := testManager()
	pos := longPosition()
	tp1 := 1.0060
	pos.TP1Price = &tp1

	at := openedAt.Add(time.Hour)
	d := m.Evaluate(pos, trendUpPacket(), false, snapWithBook(1.0061, 1.0063, nil), at)
	if d.Action != ActionTrim || d.ReasonCodes[0] != ReasonTP1Trim {
		t.Fatalf("got %+v, want TRIM", d)
	}
	if d.NewStop == nil || *d.NewStop != pos.EntryPrice {
		t.Errorf("new stop = %v, want breakeven %v", d.NewStop, pos.EntryPrice)
	}

	m.ApplyTrim(pos, d, at)
	if pos.CurrentStopPrice != pos.EntryPrice || !pos.TrailingActive || pos.PartialTakenPct != trimClosePct {
		t.Errorf("trim not applied: %+v", pos)
	}

	// Already trimmed: TP1 must not fire again.
	d = m.Evaluate(pos, trendUpPacket(), false, snapWithBook(1.0061, 1.0063, nil), at.Add(time.Minute))
	if d.Action != ActionWait {
		t.Errorf("second trim fired: %+v", d)
	}
}

func TestUnknownSideCannotEvaluate(t *testing.T) {
	m := testManager()
	pos := longPosition()
	pos.Side = "HOLD"

	d := m.Evaluate(pos, trendUpPacket(), false, snapWithBook(1.0000, 1.0002, nil), openedAt.Add(time.Hour))
	if d.Action != ActionWait || d.ReasonCodes[0] != ReasonCannotEvaluate {
		t.Errorf("got %+v, want conservative WAIT", d)
	}
}

func TestReentryLockMapping(t *testing.T) {
	m := testManager()
	tests := []struct {
		reason ReasonCode
		stress bool
		want   time.Duration
	}{
		{ReasonEventForceClose, false, 90 * time.Minute},
		{ReasonStructuralInvalid, false, 60 * time.Minute},
		{ReasonNoFollowThrough, false, 45 * time.Minute},
		{ReasonMaxHold, false, 45 * time.Minute},
		{ReasonStopInvalidatedLong, false, 30 * time.Minute},
		{ReasonStopInvalidatedLong, true, 60 * time.Minute},
		{ReasonStopInvalidatedShort, true, 60 * time.Minute},
	}
	for _, tt := range tests {
		got := m.ReentryLock(tt.reason, tt.stress)
		if got == nil || *got != tt.want {
			t.Errorf("ReentryLock(%s, %v) = %v, want %v", tt.reason, tt.stress, got, tt.want)
		}
	}

	if lock := m.ReentryLock(ReasonHolding, false); lock != nil {
		t.Errorf("unmapped reason produced a lock: %v", lock)
	}
}
