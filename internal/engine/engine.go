// Package engine sequences the scan, regime and execute cycles. Each
// cycle function is idempotent: given the same persisted snapshots and
// the same now, re-running it reaches the same per-pair decision.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/broker"
	"fx-trading-engine/internal/calendar"
	"fx-trading-engine/internal/journal"
	"fx-trading-engine/internal/lifecycle"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/modules"
	"fx-trading-engine/internal/regime"
	"fx-trading-engine/internal/risk"
	"fx-trading-engine/internal/store"
	"fx-trading-engine/internal/universe"
)

// Branch tags which path an execute evaluation took for a pair.
type Branch string

const (
	BranchManaged  Branch = "managed"
	BranchBlocked  Branch = "blocked"
	BranchNoSignal Branch = "no_signal"
	BranchExecuted Branch = "executed"
	BranchError    Branch = "error"
)

// Engine-level reason codes. Component codes pass through untouched.
const (
	reasonMarketDataUnavailable = "market_data_unavailable"
	reasonPairNotInUniverse     = "pair_not_in_universe"
	reasonReentryLockActive     = "reentry_lock_active"
	reasonPacketStale           = "regime_packet_stale"
	reasonRangeFadeSuspended    = "range_fade_suspended"
	reasonNoSignal              = "no_signal"
	reasonRiskChecksUnavailable = "risk_checks_unavailable"
	reasonOrderSubmitFailed     = "order_submit_failed"
	reasonOrderExecuted         = "order_executed"
)

// Outcome is the per-pair result of one execute cycle, kept for the
// status endpoint and tests. The journal is the durable record.
type Outcome struct {
	Pair    market.Pair     `json:"pair"`
	Branch  Branch          `json:"branch"`
	Reasons []string        `json:"reasons,omitempty"`
	Signal  *modules.Signal `json:"signal,omitempty"`
	Order   *broker.Result  `json:"order,omitempty"`
}

// Engine wires the components and owns cycle sequencing.
type Engine struct {
	cfg        *config.Config
	store      store.Store
	provider   market.Provider
	gate       *calendar.Gate
	selector   *universe.Selector
	classifier *regime.Classifier
	risk       *risk.Engine
	lifecycle  *lifecycle.Manager
	broker     broker.Executor
	jnl        *journal.Journal
	log        *logging.Logger

	modules map[regime.Module]modules.Module

	mu           sync.Mutex
	lastOutcomes []Outcome
	lastExecute  time.Time
}

// New builds the engine. The trading modules are constructed here from
// config so the allowed-module names in packets map directly onto them.
func New(cfg *config.Config, st store.Store, provider market.Provider, gate *calendar.Gate,
	classifier *regime.Classifier, riskEngine *risk.Engine, lcm *lifecycle.Manager,
	exec broker.Executor, jnl *journal.Journal, log *logging.Logger) *Engine {

	tf := cfg.MarketConfig.FineTimeframe
	return &Engine{
		cfg:        cfg,
		store:      st,
		provider:   provider,
		gate:       gate,
		selector:   universe.NewSelector(cfg.UniverseConfig),
		classifier: classifier,
		risk:       riskEngine,
		lifecycle:  lcm,
		broker:     exec,
		jnl:        jnl,
		log:        log.WithComponent("engine"),
		modules: map[regime.Module]modules.Module{
			regime.ModulePullback:       modules.NewPullback(cfg.ModulesConfig, tf),
			regime.ModuleBreakoutRetest: modules.NewBreakoutRetest(cfg.ModulesConfig, tf),
			regime.ModuleRangeFade:      modules.NewRangeFade(cfg.ModulesConfig, tf),
		},
	}
}

func (e *Engine) pairs() []market.Pair {
	out := make([]market.Pair, 0, len(e.cfg.EngineConfig.Pairs))
	for _, p := range e.cfg.EngineConfig.Pairs {
		pair := market.Pair(p)
		if pair.Valid() {
			out = append(out, pair)
		}
	}
	return out
}

func (e *Engine) packetStaleAfter() time.Duration {
	return time.Duration(e.cfg.RegimeConfig.StaleAfterMins) * time.Minute
}

// record appends a journal entry. Append failures are logged and
// swallowed; the journal must never fail a cycle.
func (e *Engine) record(ctx context.Context, entry journal.Entry) {
	if err := e.jnl.Append(ctx, entry); err != nil {
		e.log.Warn("journal append failed", "type", string(entry.Type), "error", err.Error())
	}
}

// RunScan refreshes the event snapshot, scores the configured universe
// and persists the scan snapshot. One scan journal entry per run.
func (e *Engine) RunScan(ctx context.Context, now time.Time) (*universe.Snapshot, error) {
	refreshed, err := e.gate.Refresh(ctx, now, false)
	if err != nil {
		e.log.Warn("calendar refresh error", "error", err.Error())
	}
	if refreshed {
		meta, _ := e.gate.Meta(ctx)
		e.record(ctx, journal.Entry{
			Timestamp: now,
			Type:      journal.TypeEventRefresh,
			Level:     journal.LevelInfo,
			Payload:   map[string]interface{}{"last_success": meta.LastSuccess},
		})
	}

	pairs := e.pairs()
	metrics, err := e.provider.Metrics(ctx, pairs, now)
	if err != nil {
		return nil, fmt.Errorf("fetch pair metrics: %w", err)
	}

	packets, _ := e.loadPackets(ctx)
	gateBlocked := make(map[market.Pair]bool, len(pairs))
	for _, pair := range pairs {
		dec, err := e.gate.Evaluate(ctx, pair, e.riskStateFor(packets, pair), now)
		if err != nil {
			e.log.Warn("event gate evaluation failed", "pair", string(pair), "error", err.Error())
			continue
		}
		gateBlocked[pair] = dec.BlockNewEntries
	}

	snap := e.selector.Select(pairs, metrics, gateBlocked, now)
	if err := e.saveScan(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist scan snapshot: %w", err)
	}

	eligible := snap.Eligible()
	ranked := make([]string, 0, len(eligible))
	for _, row := range eligible {
		ranked = append(ranked, string(row.Pair))
	}
	e.record(ctx, journal.Entry{
		Timestamp: now,
		Type:      journal.TypeScan,
		Level:     journal.LevelInfo,
		Payload: map[string]interface{}{
			"pairs":    len(pairs),
			"eligible": ranked,
		},
	})

	e.log.Info("scan cycle complete", "pairs", len(pairs), "eligible", len(eligible))
	return snap, nil
}

// RunRegime classifies every scanned pair into a regime packet and
// persists the packet snapshot. Reuses a fresh scan or triggers one.
func (e *Engine) RunRegime(ctx context.Context, now time.Time) (*regime.Snapshot, error) {
	scan, err := e.scanFor(ctx, now)
	if err != nil {
		return nil, err
	}

	prev, _ := e.loadPackets(ctx)
	packets := make(map[market.Pair]*regime.Packet, len(scan.Rows))
	for _, row := range scan.Rows {
		lockout := false
		dec, err := e.gate.Evaluate(ctx, row.Pair, e.riskStateFor(prev, row.Pair), now)
		if err != nil {
			e.log.Warn("event gate evaluation failed", "pair", string(row.Pair), "error", err.Error())
		} else {
			lockout = dec.BlockNewEntries && len(dec.MatchedEvents) > 0
		}
		packets[row.Pair] = e.classifier.Classify(ctx, row, lockout, now)
	}

	snap := &regime.Snapshot{Packets: packets, GeneratedAt: now}
	if err := e.savePackets(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist packet snapshot: %w", err)
	}

	counts := make(map[string]int, 4)
	for _, p := range packets {
		counts[string(p.Regime)]++
	}
	e.record(ctx, journal.Entry{
		Timestamp: now,
		Type:      journal.TypeRegime,
		Level:     journal.LevelInfo,
		Payload:   map[string]interface{}{"packets": len(packets), "regimes": counts},
	})

	e.log.Info("regime cycle complete", "packets", len(packets))
	return snap, nil
}

// RunExecute manages open positions and attempts new entries for every
// configured pair. Every pair writes exactly one execution journal
// entry whichever branch it takes.
func (e *Engine) RunExecute(ctx context.Context, now time.Time) ([]Outcome, error) {
	scan, err := e.scanFor(ctx, now)
	if err != nil {
		return nil, err
	}
	packets, err := e.packetsFor(ctx, now)
	if err != nil {
		return nil, err
	}

	equity, err := e.broker.Equity(ctx)
	if err != nil {
		e.log.Warn("equity unavailable, sizing will fall back", "error", err.Error())
		equity = 0
	}

	positions, err := e.loadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	usage := risk.ComputeUsage(toRiskPositions(positions), equity, e.cfg.RiskConfig.FallbackRiskPct)
	exposure := currencyExposure(positions)

	pairs := e.pairs()
	outcomes := make([]Outcome, len(pairs))
	var wg sync.WaitGroup
	for i, pair := range pairs {
		wg.Add(1)
		go func(i int, pair market.Pair) {
			defer wg.Done()
			outcomes[i] = e.executePair(ctx, pair, scan, packets, usage, exposure, equity, now)
		}(i, pair)
	}
	wg.Wait()

	e.mu.Lock()
	e.lastOutcomes = outcomes
	e.lastExecute = now
	e.mu.Unlock()

	e.log.Info("execute cycle complete", "pairs", len(pairs))
	return outcomes, nil
}

// LastExecute returns the most recent execute outcomes for the status
// endpoint.
func (e *Engine) LastExecute() ([]Outcome, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastOutcomes, e.lastExecute
}

// scanFor reuses the persisted scan snapshot while it is within the
// scan cadence, otherwise runs a fresh scan.
func (e *Engine) scanFor(ctx context.Context, now time.Time) (*universe.Snapshot, error) {
	snap, err := e.loadScan(ctx)
	if err != nil {
		return nil, err
	}
	if snap != nil && now.Sub(snap.GeneratedAt) <= e.cfg.ScanInterval() {
		return snap, nil
	}
	return e.RunScan(ctx, now)
}

// packetsFor reuses the persisted packet snapshot while it is within
// the regime cadence, otherwise runs a fresh regime cycle.
func (e *Engine) packetsFor(ctx context.Context, now time.Time) (*regime.Snapshot, error) {
	snap, err := e.loadPackets(ctx)
	if err != nil {
		return nil, err
	}
	if snap != nil && now.Sub(snap.GeneratedAt) <= e.cfg.RegimeInterval() {
		return snap, nil
	}
	return e.RunRegime(ctx, now)
}

func (e *Engine) executePair(ctx context.Context, pair market.Pair, scan *universe.Snapshot,
	packets *regime.Snapshot, usage risk.Usage, exposure map[string]float64, equity float64, now time.Time) Outcome {

	packet := packets.Get(pair)
	stale := packet.Stale(now, e.packetStaleAfter())

	gateDec, err := e.gate.Evaluate(ctx, pair, e.riskStateFor(packets, pair), now)
	if err != nil {
		e.log.Warn("event gate evaluation failed", "pair", string(pair), "error", err.Error())
		gateDec = nil
	}

	if pos, _ := e.loadPosition(ctx, pair); pos != nil {
		return e.managePosition(ctx, pos, packet, stale, gateDec, now)
	}
	return e.tryEntry(ctx, pair, scan, packet, stale, gateDec, usage, exposure, equity, now)
}

// managePosition runs the lifecycle rules over one open position and
// applies the resulting action through the broker and store.
func (e *Engine) managePosition(ctx context.Context, pos *lifecycle.Position, packet *regime.Packet,
	stale bool, gateDec *calendar.Decision, now time.Time) Outcome {

	pair := pos.Pair
	snap, err := e.provider.Snapshot(ctx, pair, e.cfg.MarketConfig.Timeframes, now)
	if err != nil {
		e.log.Error("market snapshot failed", "pair", string(pair), "error", err.Error())
		return e.executionOutcome(ctx, pair, BranchError, journal.LevelError,
			[]string{reasonMarketDataUnavailable}, nil, nil, now)
	}

	var dec lifecycle.Decision
	if gateDec != nil && gateDec.BlockNewEntries && len(gateDec.MatchedEvents) > 0 {
		dec = lifecycle.Decision{
			Action:      lifecycle.ActionClose,
			ReasonCodes: []lifecycle.ReasonCode{lifecycle.ReasonEventForceClose},
		}
	} else {
		dec = e.lifecycle.Evaluate(pos, packet, stale, snap, now)
	}
	reasons := lifecycleReasons(dec)

	switch dec.Action {
	case lifecycle.ActionClose:
		res, err := e.broker.Execute(ctx, pair, pos.Notional, broker.Decision{
			Action: broker.ActionClose,
			Reason: primaryReason(dec),
		})
		if err != nil {
			e.log.Error("close order failed", "pair", string(pair), "error", err.Error())
			return e.executionOutcome(ctx, pair, BranchError, journal.LevelError,
				append(reasons, reasonOrderSubmitFailed), nil, nil, now)
		}
		stress := snap.Metrics.Shock || snap.Metrics.SpreadPips > e.cfg.RiskConfig.SessionStressPips
		if lock := e.lifecycle.ReentryLock(lifecycle.ReasonCode(primaryReason(dec)), stress); lock != nil {
			if err := e.writeTimedRecord(ctx, store.ReentryLockKey(string(pair)), pair, primaryReason(dec), now, *lock); err != nil {
				e.log.Warn("reentry lock write failed", "pair", string(pair), "error", err.Error())
			}
		}
		if err := e.clearPosition(ctx, pair); err != nil {
			e.log.Error("position clear failed", "pair", string(pair), "error", err.Error())
		}
		return e.executionOutcome(ctx, pair, BranchManaged, journal.LevelInfo, reasons, nil, res, now)

	case lifecycle.ActionTrim:
		res, err := e.broker.Execute(ctx, pair, pos.Notional, broker.Decision{
			Action:   broker.ActionTrim,
			Reason:   primaryReason(dec),
			ClosePct: dec.ClosePct,
		})
		if err != nil {
			e.log.Error("trim order failed", "pair", string(pair), "error", err.Error())
			return e.executionOutcome(ctx, pair, BranchError, journal.LevelError,
				append(reasons, reasonOrderSubmitFailed), nil, nil, now)
		}
		e.lifecycle.ApplyTrim(pos, dec, now)
		pos.LastManagedAt = now
		if err := e.savePosition(ctx, pos); err != nil {
			e.log.Error("position save failed", "pair", string(pair), "error", err.Error())
		}
		return e.executionOutcome(ctx, pair, BranchManaged, journal.LevelInfo, reasons, nil, res, now)

	default:
		pos.LastManagedAt = now
		if err := e.savePosition(ctx, pos); err != nil {
			e.log.Error("position save failed", "pair", string(pair), "error", err.Error())
		}
		return e.executionOutcome(ctx, pair, BranchManaged, journal.LevelInfo, reasons, nil, nil, now)
	}
}

// tryEntry walks the new-entry pipeline: universe eligibility, reentry
// lock, packet freshness, pre-trade risk checks, module evaluation,
// cap budget, sizing, order.
func (e *Engine) tryEntry(ctx context.Context, pair market.Pair, scan *universe.Snapshot,
	packet *regime.Packet, stale bool, gateDec *calendar.Decision,
	usage risk.Usage, exposure map[string]float64, equity float64, now time.Time) Outcome {

	row, found := scan.Find(pair)
	if !found {
		return e.executionOutcome(ctx, pair, BranchBlocked, journal.LevelInfo,
			[]string{reasonPairNotInUniverse}, nil, nil, now)
	}
	if !row.Eligible {
		return e.executionOutcome(ctx, pair, BranchBlocked, journal.LevelInfo,
			universeReasons(row), nil, nil, now)
	}
	if e.timedRecordActive(ctx, store.ReentryLockKey(string(pair)), now) {
		return e.executionOutcome(ctx, pair, BranchBlocked, journal.LevelInfo,
			[]string{reasonReentryLockActive}, nil, nil, now)
	}
	if packet == nil || stale {
		return e.executionOutcome(ctx, pair, BranchBlocked, journal.LevelInfo,
			[]string{reasonPacketStale}, nil, nil, now)
	}

	gateBlocked := gateDec == nil || gateDec.BlockNewEntries
	check, err := e.risk.PreTradeChecks(ctx, row.Metrics, gateBlocked, exposure, now)
	if err != nil {
		e.log.Error("pre-trade checks failed", "pair", string(pair), "error", err.Error())
		return e.executionOutcome(ctx, pair, BranchError, journal.LevelError,
			[]string{reasonRiskChecksUnavailable}, nil, nil, now)
	}
	riskReasons := riskReasonStrings(check.Reasons)
	if !check.Allowed {
		return e.executionOutcome(ctx, pair, BranchBlocked, journal.LevelInfo, riskReasons, nil, nil, now)
	}

	snap, err := e.provider.Snapshot(ctx, pair, e.cfg.MarketConfig.Timeframes, now)
	if err != nil {
		e.log.Error("market snapshot failed", "pair", string(pair), "error", err.Error())
		return e.executionOutcome(ctx, pair, BranchError, journal.LevelError,
			[]string{reasonMarketDataUnavailable}, nil, nil, now)
	}

	sig, moduleReasons := e.evaluateModules(ctx, pair, packet, snap, now)
	reasons := append(riskReasons, moduleReasons...)
	if sig == nil {
		return e.executionOutcome(ctx, pair, BranchNoSignal, journal.LevelInfo,
			append(reasons, reasonNoSignal), nil, nil, now)
	}

	budget := risk.CheckBudget(usage, pair, e.cfg.RiskConfig.RiskPerTradePct, e.cfg.RiskConfig)
	if !budget.Allowed {
		return e.executionOutcome(ctx, pair, BranchBlocked, journal.LevelInfo,
			append(reasons, riskReasonStrings(budget.Reasons)...), sig, nil, now)
	}

	size := risk.ComputeSize(equity, sig.Confidence, sig.EntryPrice, sig.StopPrice, e.cfg.RiskConfig)
	reasons = append(reasons, riskReasonStrings(size.Reasons)...)

	action := broker.ActionOpenLong
	if sig.Side == modules.SideSell {
		action = broker.ActionOpenShort
	}
	res, err := e.broker.Execute(ctx, pair, size.Notional, broker.Decision{
		Action:   action,
		Leverage: size.Leverage,
		Reason:   signalReason(sig),
		StopLoss: sig.StopPrice,
	})
	if err != nil {
		e.log.Error("entry order failed", "pair", string(pair), "error", err.Error())
		return e.executionOutcome(ctx, pair, BranchError, journal.LevelError,
			append(reasons, reasonOrderSubmitFailed), sig, nil, now)
	}

	pos := buildPosition(sig, size, packet, now)
	if err := e.savePosition(ctx, pos); err != nil {
		e.log.Error("position save failed", "pair", string(pair), "error", err.Error())
	}

	return e.executionOutcome(ctx, pair, BranchExecuted, journal.LevelInfo,
		append(reasons, reasonOrderExecuted), sig, res, now)
}

// evaluateModules tries the packet's allowed modules in order; the
// first signal wins. A range-fade kill-switch writes a per-pair
// suspension lasting until the next regime re-evaluation window.
func (e *Engine) evaluateModules(ctx context.Context, pair market.Pair, packet *regime.Packet,
	snap *market.Snapshot, now time.Time) (*modules.Signal, []string) {

	var reasons []string
	for _, name := range packet.AllowedModules {
		mod, ok := e.modules[name]
		if !ok {
			continue
		}
		if name == regime.ModuleRangeFade && e.timedRecordActive(ctx, store.RangeFadeCooldownKey(string(pair)), now) {
			reasons = append(reasons, reasonRangeFadeSuspended)
			continue
		}
		res := mod.Evaluate(packet, snap, now)
		reasons = append(reasons, moduleReasonStrings(res.Reasons)...)
		if res.KillSwitch {
			if err := e.writeTimedRecord(ctx, store.RangeFadeCooldownKey(string(pair)), pair,
				string(modules.ReasonRangeKillSwitch), now, e.cfg.RegimeInterval()); err != nil {
				e.log.Warn("range-fade suspension write failed", "pair", string(pair), "error", err.Error())
			}
			continue
		}
		if res.Signal != nil {
			reasons = append(reasons, moduleReasonStrings(res.Signal.ReasonCodes)...)
			return res.Signal, reasons
		}
	}
	return nil, reasons
}

// executionOutcome journals the branch and builds the Outcome. This is
// the single point every execute branch funnels through, so each pair
// gets exactly one execution entry per cycle.
func (e *Engine) executionOutcome(ctx context.Context, pair market.Pair, branch Branch,
	level journal.Level, reasons []string, sig *modules.Signal, order *broker.Result, now time.Time) Outcome {

	payload := map[string]interface{}{"branch": string(branch)}
	if sig != nil {
		payload["decision"] = sig
	}
	if order != nil {
		payload["order"] = order
	}
	e.record(ctx, journal.Entry{
		Timestamp:   now,
		Type:        journal.TypeExecution,
		Pair:        pair,
		Level:       level,
		ReasonCodes: reasons,
		Payload:     payload,
	})
	return Outcome{Pair: pair, Branch: branch, Reasons: reasons, Signal: sig, Order: order}
}

func buildPosition(sig *modules.Signal, size risk.SizeDecision, packet *regime.Packet, now time.Time) *lifecycle.Position {
	riskDist := math.Abs(sig.EntryPrice - sig.StopPrice)
	var units float64
	if sig.EntryPrice > 0 {
		units = size.Notional * float64(size.Leverage) / sig.EntryPrice
	}
	var tp1, tp2 float64
	if sig.Side == modules.SideBuy {
		tp1 = sig.EntryPrice + riskDist
		tp2 = sig.EntryPrice + 2*riskDist
	} else {
		tp1 = sig.EntryPrice - riskDist
		tp2 = sig.EntryPrice - 2*riskDist
	}
	return &lifecycle.Position{
		Pair:                sig.Pair,
		Side:                sig.Side,
		EntryModule:         sig.Module,
		EntryPrice:          sig.EntryPrice,
		InitialStopPrice:    sig.StopPrice,
		CurrentStopPrice:    sig.StopPrice,
		InitialRiskDistance: riskDist,
		Size:                units,
		Notional:            size.Notional,
		TP1Price:            &tp1,
		TP2Price:            &tp2,
		OpenedAt:            now,
		LastManagedAt:       now,
		PacketAtEntry:       packet,
	}
}

func toRiskPositions(positions []*lifecycle.Position) []risk.OpenPosition {
	out := make([]risk.OpenPosition, 0, len(positions))
	for _, p := range positions {
		out = append(out, risk.OpenPosition{
			Pair:       p.Pair,
			EntryPrice: p.EntryPrice,
			StopPrice:  p.CurrentStopPrice,
			Size:       p.Size,
			Notional:   p.Notional,
		})
	}
	return out
}

// currencyExposure counts open positions per leg currency.
func currencyExposure(positions []*lifecycle.Position) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range positions {
		base, quote := p.Pair.Currencies()
		out[base]++
		out[quote]++
	}
	return out
}

func primaryReason(dec lifecycle.Decision) string {
	if len(dec.ReasonCodes) == 0 {
		return ""
	}
	return string(dec.ReasonCodes[0])
}

func signalReason(sig *modules.Signal) string {
	if len(sig.ReasonCodes) == 0 {
		return ""
	}
	return string(sig.ReasonCodes[0])
}

func lifecycleReasons(dec lifecycle.Decision) []string {
	out := make([]string, 0, len(dec.ReasonCodes))
	for _, r := range dec.ReasonCodes {
		out = append(out, string(r))
	}
	return out
}

func universeReasons(row universe.Row) []string {
	out := make([]string, 0, len(row.Reasons))
	for _, r := range row.Reasons {
		out = append(out, string(r))
	}
	return out
}

func riskReasonStrings(reasons []risk.ReasonCode) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}

func moduleReasonStrings(reasons []modules.ReasonCode) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}
