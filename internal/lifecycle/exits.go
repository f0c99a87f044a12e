package lifecycle

import (
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/modules"
	"fx-trading-engine/internal/regime"
)

// trimClosePct is the portion closed when TP1 is reached.
const trimClosePct = 50

// Manager applies the exit rules to open positions.
type Manager struct {
	cfg config.LifecycleConfig
	log *logging.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(cfg config.LifecycleConfig, log *logging.Logger) *Manager {
	return &Manager{cfg: cfg, log: log.WithComponent("lifecycle")}
}

// Evaluate runs one management pass over an open position. packet may be
// stale (packetStale set), in which case packet-dependent rules are
// skipped rather than trusted. The rules run in priority order: stop
// invalidation, structural fallback, no-follow-through, max-hold, TP1
// trim, then WAIT.
func (m *Manager) Evaluate(pos *Position, packet *regime.Packet, packetStale bool, snap *market.Snapshot, now time.Time) Decision {
	if pos.Side != modules.SideBuy && pos.Side != modules.SideSell {
		m.log.Warn("position has unknown side, refusing to act", "pair", string(pos.Pair), "side", string(pos.Side))
		return Decision{Action: ActionWait, ReasonCodes: []ReasonCode{ReasonCannotEvaluate}}
	}

	progress := ComputeProgress(pos, snap.Candles[fineTimeframe(snap)], now)

	if d, decided := m.stopInvalidation(pos, packet, packetStale, snap.Book); decided {
		return d
	}

	if progress.AgeBars >= m.cfg.NoFollowThroughBars && progress.MFER < m.cfg.MinFollowThroughR {
		return closeDecision(ReasonNoFollowThrough)
	}

	if progress.ElapsedHours >= m.cfg.MaxHoldHours {
		if m.trendAligned(pos, packet, packetStale) && pos.TrailingActive {
			// Trend winners with a live trail are allowed to run.
			return Decision{Action: ActionWait, ReasonCodes: []ReasonCode{ReasonMaxHoldExempt}}
		}
		return closeDecision(ReasonMaxHold)
	}

	if d, decided := m.tp1Trim(pos, snap.Book); decided {
		return d
	}

	return Decision{Action: ActionWait, ReasonCodes: []ReasonCode{ReasonHolding}}
}

// stopInvalidation checks the executable side of the book against the
// current stop: bid for longs, offer for shorts. Mid-price noise must
// never trigger a stop. With no usable book it falls back to structural
// invalidation off the packet.
func (m *Manager) stopInvalidation(pos *Position, packet *regime.Packet, packetStale bool, book market.BookTop) (Decision, bool) {
	if book.Valid() && pos.CurrentStopPrice > 0 {
		if pos.Long() && book.Bid < pos.CurrentStopPrice {
			return closeDecision(ReasonStopInvalidatedLong), true
		}
		if !pos.Long() && book.Ask > pos.CurrentStopPrice {
			return closeDecision(ReasonStopInvalidatedShort), true
		}
		return Decision{}, false
	}

	// No reliable stop check; invalidate only on clear structural
	// opposition from a fresh packet.
	if packet == nil || packetStale {
		return Decision{}, false
	}
	opposing := (pos.Long() && packet.Regime == regime.RegimeTrendDown) ||
		(!pos.Long() && packet.Regime == regime.RegimeTrendUp)
	permissionGone := packet.Permission == regime.PermissionFlat || !packet.AllowsSide(pos.Long())
	if opposing && permissionGone {
		return closeDecision(ReasonStructuralInvalid), true
	}
	return Decision{}, false
}

// tp1Trim takes partial profit and moves the stop to breakeven the
// first time price reaches TP1.
func (m *Manager) tp1Trim(pos *Position, book market.BookTop) (Decision, bool) {
	if pos.TP1Price == nil || pos.PartialTakenPct > 0 || !book.Valid() {
		return Decision{}, false
	}
	reached := (pos.Long() && book.Bid >= *pos.TP1Price) ||
		(!pos.Long() && book.Ask <= *pos.TP1Price)
	if !reached {
		return Decision{}, false
	}
	breakeven := pos.EntryPrice
	return Decision{
		Action:      ActionTrim,
		ReasonCodes: []ReasonCode{ReasonTP1Trim},
		NewStop:     &breakeven,
		ClosePct:    trimClosePct,
	}, true
}

// ApplyTrim folds a TRIM decision back into the position context.
func (m *Manager) ApplyTrim(pos *Position, d Decision, now time.Time) {
	pos.PartialTakenPct = d.ClosePct
	if d.NewStop != nil {
		pos.CurrentStopPrice = *d.NewStop
	}
	pos.TrailingActive = true
	pos.TrailingMode = "breakeven"
	pos.LastManagedAt = now
}

func (m *Manager) trendAligned(pos *Position, packet *regime.Packet, packetStale bool) bool {
	if packet == nil || packetStale {
		return false
	}
	if pos.Long() {
		return packet.Regime == regime.RegimeTrendUp
	}
	return packet.Regime == regime.RegimeTrendDown
}

func closeDecision(reason ReasonCode) Decision {
	return Decision{Action: ActionClose, ReasonCodes: []ReasonCode{reason}}
}

// fineTimeframe picks the shortest resolution present in the snapshot.
// Snapshots are requested with the module timeframe first.
func fineTimeframe(snap *market.Snapshot) string {
	best := ""
	var bestDur time.Duration
	for tf, candles := range snap.Candles {
		if len(candles) < 2 {
			continue
		}
		d := candles[1].OpenTime.Sub(candles[0].OpenTime)
		if best == "" || (d > 0 && d < bestDur) {
			best, bestDur = tf, d
		}
	}
	return best
}
