package risk

import (
	"context"
	"fmt"
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/store"
)

// CheckResult is the pre-trade battery outcome for one pair. Every
// check runs; reasons accumulate so the journal shows all blockers.
type CheckResult struct {
	Pair    market.Pair  `json:"pair"`
	Allowed bool         `json:"allowed"`
	Reasons []ReasonCode `json:"reasons"`
}

// Engine runs the stateful risk checks. It owns the shock-cooldown
// records in the store; everything else in this package is pure.
type Engine struct {
	cfg   config.RiskConfig
	store store.Store
	log   *logging.Logger
}

// NewEngine creates the risk engine.
func NewEngine(cfg config.RiskConfig, st store.Store, log *logging.Logger) *Engine {
	return &Engine{cfg: cfg, store: st, log: log.WithComponent("risk")}
}

// PreTradeChecks evaluates every entry gate for a pair. A shock flag
// both blocks and writes a cooldown record so subsequent cycles stay
// blocked until it expires. currencyExposure is each currency's share
// of open notional.
func (e *Engine) PreTradeChecks(ctx context.Context, m market.PairMetrics, gateBlocked bool, currencyExposure map[string]float64, now time.Time) (*CheckResult, error) {
	res := &CheckResult{Pair: m.Pair}

	if gateBlocked {
		res.Reasons = append(res.Reasons, ReasonEventGateBlocked)
	}
	if e.cfg.MaxSpreadPips > 0 && m.SpreadPips > e.cfg.MaxSpreadPips {
		res.Reasons = append(res.Reasons, ReasonSpreadPipsAboveMax)
	}
	if e.cfg.MaxSpreadToATR > 0 && m.SpreadToATR1h > e.cfg.MaxSpreadToATR {
		res.Reasons = append(res.Reasons, ReasonSpreadToATRAboveMax)
	}
	if e.inSessionEdgeWindow(now) && m.SpreadPips > e.cfg.SessionStressPips {
		res.Reasons = append(res.Reasons, ReasonSessionSpreadStress)
	}
	if e.inRolloverBlackout(now) {
		res.Reasons = append(res.Reasons, ReasonRolloverBlackout)
	}

	if m.Shock {
		if err := e.setShockCooldown(ctx, m.Pair, now); err != nil {
			e.log.Error("shock cooldown write failed", "pair", string(m.Pair), "error", err)
		}
		res.Reasons = append(res.Reasons, ReasonShockCooldownSet)
	} else {
		active, err := e.shockCooldownActive(ctx, m.Pair, now)
		if err != nil {
			return nil, fmt.Errorf("read shock cooldown: %w", err)
		}
		if active {
			res.Reasons = append(res.Reasons, ReasonShockCooldownActive)
		}
	}

	if e.cfg.MaxCurrencyExposure > 0 {
		base, quote := m.Pair.Currencies()
		if currencyExposure[base] >= e.cfg.MaxCurrencyExposure || currencyExposure[quote] >= e.cfg.MaxCurrencyExposure {
			res.Reasons = append(res.Reasons, ReasonCurrencyExposureCap)
		}
	}

	if len(res.Reasons) == 0 {
		res.Allowed = true
		res.Reasons = []ReasonCode{ReasonChecksClear}
	}
	return res, nil
}

func (e *Engine) setShockCooldown(ctx context.Context, pair market.Pair, now time.Time) error {
	cooldown := time.Duration(e.cfg.ShockCooldownMins) * time.Minute
	rec := store.TimedRecord{
		Pair:       string(pair),
		Reason:     string(ReasonShockCooldownSet),
		SetAt:      now,
		ValidUntil: now.Add(cooldown),
	}
	return e.store.SetJSON(ctx, store.ShockCooldownKey(string(pair)), rec, cooldown)
}

func (e *Engine) shockCooldownActive(ctx context.Context, pair market.Pair, now time.Time) (bool, error) {
	var rec store.TimedRecord
	found, err := e.store.GetJSON(ctx, store.ShockCooldownKey(string(pair)), &rec)
	if err != nil || !found {
		return false, err
	}
	return rec.Active(now), nil
}

// inSessionEdgeWindow reports whether now falls inside any configured
// session-boundary stress window.
func (e *Engine) inSessionEdgeWindow(now time.Time) bool {
	window := time.Duration(e.cfg.SessionEdgeWindowMin) * time.Minute
	if window <= 0 {
		return false
	}
	for _, edge := range e.cfg.SessionEdgesUTC {
		at, ok := timeOfDayUTC(now, edge)
		if !ok {
			continue
		}
		if !now.Before(at.Add(-window)) && !now.After(at.Add(window)) {
			return true
		}
	}
	return false
}

// inRolloverBlackout reports whether now falls inside the pre-rollover
// entry blackout [rollover - blackout, rollover].
func (e *Engine) inRolloverBlackout(now time.Time) bool {
	if e.cfg.RolloverBlackoutMin <= 0 {
		return false
	}
	rollover, ok := timeOfDayUTC(now, e.cfg.RolloverStartUTC)
	if !ok {
		return false
	}
	start := rollover.Add(-time.Duration(e.cfg.RolloverBlackoutMin) * time.Minute)
	return !now.Before(start) && !now.After(rollover)
}

// timeOfDayUTC anchors an "HH:MM" clock time onto now's UTC date.
func timeOfDayUTC(now time.Time, hhmm string) (time.Time, bool) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, false
	}
	y, mo, d := now.UTC().Date()
	return time.Date(y, mo, d, parsed.Hour(), parsed.Minute(), 0, 0, time.UTC), true
}
