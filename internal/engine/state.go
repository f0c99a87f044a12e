package engine

import (
	"context"
	"time"

	"fx-trading-engine/internal/lifecycle"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime"
	"fx-trading-engine/internal/store"
	"fx-trading-engine/internal/universe"
)

// Cross-cycle state lives in the store as per-pair records with a
// valid-until timestamp. Every temporal decision compares stored state
// against the cycle-supplied now, never against a wall-clock read.

func (e *Engine) loadScan(ctx context.Context) (*universe.Snapshot, error) {
	var snap universe.Snapshot
	found, err := e.store.GetJSON(ctx, store.ScanSnapshotKey(), &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (e *Engine) saveScan(ctx context.Context, snap *universe.Snapshot) error {
	return e.store.SetJSON(ctx, store.ScanSnapshotKey(), snap, 0)
}

func (e *Engine) loadPackets(ctx context.Context) (*regime.Snapshot, error) {
	var snap regime.Snapshot
	found, err := e.store.GetJSON(ctx, store.PacketSnapshotKey(), &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (e *Engine) savePackets(ctx context.Context, snap *regime.Snapshot) error {
	return e.store.SetJSON(ctx, store.PacketSnapshotKey(), snap, 0)
}

func (e *Engine) loadPosition(ctx context.Context, pair market.Pair) (*lifecycle.Position, error) {
	var pos lifecycle.Position
	found, err := e.store.GetJSON(ctx, store.PositionKey(string(pair)), &pos)
	if err != nil || !found {
		return nil, err
	}
	return &pos, nil
}

func (e *Engine) savePosition(ctx context.Context, pos *lifecycle.Position) error {
	return e.store.SetJSON(ctx, store.PositionKey(string(pos.Pair)), pos, 0)
}

func (e *Engine) clearPosition(ctx context.Context, pair market.Pair) error {
	return e.store.Delete(ctx, store.PositionKey(string(pair)))
}

// loadPositions returns every open position context.
func (e *Engine) loadPositions(ctx context.Context) ([]*lifecycle.Position, error) {
	keys, err := e.store.Keys(ctx, store.PositionKeyPattern())
	if err != nil {
		return nil, err
	}
	positions := make([]*lifecycle.Position, 0, len(keys))
	for _, key := range keys {
		var pos lifecycle.Position
		found, err := e.store.GetJSON(ctx, key, &pos)
		if err != nil || !found {
			continue
		}
		positions = append(positions, &pos)
	}
	return positions, nil
}

// timedRecordActive reads a TimedRecord at key and checks it against now.
// Missing or malformed records count as inactive.
func (e *Engine) timedRecordActive(ctx context.Context, key string, now time.Time) bool {
	var rec store.TimedRecord
	found, err := e.store.GetJSON(ctx, key, &rec)
	if err != nil || !found {
		return false
	}
	return rec.Active(now)
}

func (e *Engine) writeTimedRecord(ctx context.Context, key string, pair market.Pair, reason string, now time.Time, d time.Duration) error {
	rec := store.TimedRecord{
		Pair:       string(pair),
		Reason:     reason,
		SetAt:      now,
		ValidUntil: now.Add(d),
	}
	return e.store.SetJSON(ctx, key, rec, d)
}

// riskStateFor resolves the latest known risk state for a pair from the
// persisted packet snapshot. Empty when no packet exists yet; the event
// gate treats that as elevated.
func (e *Engine) riskStateFor(snap *regime.Snapshot, pair market.Pair) string {
	if snap == nil {
		return ""
	}
	if p := snap.Get(pair); p != nil {
		return p.RiskState
	}
	return ""
}
