package calendar

import (
	"context"
	"fmt"
	"time"

	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/store"
)

// GateConfig holds event-gate policy settings.
type GateConfig struct {
	RefreshInterval time.Duration
	StaleAfter      time.Duration
	PreBlock        time.Duration
	PostBlock       time.Duration
	BlockedImpacts  []Impact
	MaxCallsPerDay  int
}

// Gate owns the cached calendar snapshot and produces per-pair entry
// decisions. The snapshot and fetch metadata are persisted so that
// restarts keep operating on the last good data.
type Gate struct {
	client *Client
	store  store.Store
	cfg    GateConfig
	log    *logging.Logger
}

// NewGate creates an event gate.
func NewGate(client *Client, st store.Store, cfg GateConfig, log *logging.Logger) *Gate {
	return &Gate{client: client, store: st, cfg: cfg, log: log.WithComponent("event-gate")}
}

// Refresh fetches a new calendar snapshot unless the cached one is
// recent enough (or the daily call budget is exhausted). force bypasses
// the recency check but not the budget. A fetch failure keeps the
// previous snapshot and records failure metadata; it is not an error
// for the cycle.
func (g *Gate) Refresh(ctx context.Context, now time.Time, force bool) (refreshed bool, err error) {
	var meta FetchMeta
	if _, err := g.store.GetJSON(ctx, store.EventMetaKey(), &meta); err != nil {
		return false, fmt.Errorf("read calendar meta: %w", err)
	}

	if !force && !meta.LastSuccess.IsZero() && now.Sub(meta.LastSuccess) < g.cfg.RefreshInterval {
		return false, nil
	}

	if g.cfg.MaxCallsPerDay > 0 {
		calls, err := g.store.Incr(ctx, store.CalendarCallsKey(now), 48*time.Hour)
		if err == nil && calls > int64(g.cfg.MaxCallsPerDay) {
			g.log.Warn("calendar call budget reached, keeping cached snapshot", "calls", calls)
			return false, nil
		}
	}

	events, fetchErr := g.client.Fetch(ctx)
	if fetchErr != nil {
		meta.LastFailure = now
		meta.LastError = fetchErr.Error()
		if err := g.store.SetJSON(ctx, store.EventMetaKey(), meta, 0); err != nil {
			g.log.Error("persist calendar meta failed", "error", err)
		}
		g.log.Warn("calendar fetch failed, continuing on cached snapshot", "error", fetchErr)
		return false, nil
	}

	var snap Snapshot
	if _, err := g.store.GetJSON(ctx, store.EventSnapshotKey(), &snap); err != nil {
		g.log.Warn("read cached calendar snapshot failed", "error", err)
	}

	snap.Events = mergeEvents(snap.Events, events, now)
	snap.FetchedAt = now
	meta.LastSuccess = now
	meta.LastError = ""

	if err := g.store.SetJSON(ctx, store.EventSnapshotKey(), snap, 0); err != nil {
		return false, fmt.Errorf("persist calendar snapshot: %w", err)
	}
	if err := g.store.SetJSON(ctx, store.EventMetaKey(), meta, 0); err != nil {
		return false, fmt.Errorf("persist calendar meta: %w", err)
	}

	g.log.Info("calendar snapshot refreshed", "events", len(snap.Events))
	return true, nil
}

// mergeEvents unions cached and fetched events by content-hash ID and
// drops events more than two days in the past.
func mergeEvents(cached, fetched []Event, now time.Time) []Event {
	cutoff := now.Add(-48 * time.Hour)
	seen := make(map[string]bool, len(cached)+len(fetched))
	out := make([]Event, 0, len(cached)+len(fetched))
	for _, list := range [][]Event{fetched, cached} {
		for _, ev := range list {
			if seen[ev.ID] || ev.Time.Before(cutoff) {
				continue
			}
			seen[ev.ID] = true
			out = append(out, ev)
		}
	}
	return out
}

// Evaluate computes the gate decision for one pair. riskState is the
// caller's current regime risk state; an empty value defaults to
// elevated, which is the safe side on stale data.
func (g *Gate) Evaluate(ctx context.Context, pair market.Pair, riskState string, now time.Time) (*Decision, error) {
	var snap Snapshot
	if _, err := g.store.GetJSON(ctx, store.EventSnapshotKey(), &snap); err != nil {
		return nil, fmt.Errorf("read calendar snapshot: %w", err)
	}
	var meta FetchMeta
	if _, err := g.store.GetJSON(ctx, store.EventMetaKey(), &meta); err != nil {
		return nil, fmt.Errorf("read calendar meta: %w", err)
	}

	applied := riskState
	if applied == "" {
		applied = RiskStateElevated
	}

	d := &Decision{
		Pair:               pair,
		AllowRiskReduction: true,
		RiskStateApplied:   applied,
	}

	if meta.Stale(now, g.cfg.StaleAfter) {
		d.StaleData = true
		if applied == RiskStateNormal {
			d.AllowNewEntries = true
			d.ReasonCodes = append(d.ReasonCodes, ReasonStaleDataAllowed)
		} else {
			d.BlockNewEntries = true
			d.ReasonCodes = append(d.ReasonCodes, ReasonStaleDataBlock)
		}
		return d, nil
	}

	base, quote := pair.Currencies()
	impacts := make(map[Impact]bool)
	for _, ev := range snap.Events {
		if ev.Currency != base && ev.Currency != quote {
			continue
		}
		if !g.impactBlocked(ev.Impact) {
			continue
		}
		if !ev.ActiveFor(now, g.cfg.PreBlock, g.cfg.PostBlock) {
			continue
		}
		d.MatchedEvents = append(d.MatchedEvents, ev)
		impacts[ev.Impact] = true
	}

	if len(d.MatchedEvents) > 0 {
		d.BlockNewEntries = true
		d.ReasonCodes = append(d.ReasonCodes, ReasonEventActiveBlock)
		for _, imp := range []Impact{ImpactHigh, ImpactMedium, ImpactLow, ImpactUnknown} {
			if impacts[imp] {
				d.ActiveImpactLevels = append(d.ActiveImpactLevels, imp)
			}
		}
		return d, nil
	}

	d.AllowNewEntries = true
	d.ReasonCodes = append(d.ReasonCodes, ReasonNoActiveEvents)
	return d, nil
}

func (g *Gate) impactBlocked(imp Impact) bool {
	for _, b := range g.cfg.BlockedImpacts {
		if b == imp {
			return true
		}
	}
	return false
}

// Meta returns the current fetch metadata for status reporting.
func (g *Gate) Meta(ctx context.Context) (FetchMeta, error) {
	var meta FetchMeta
	if _, err := g.store.GetJSON(ctx, store.EventMetaKey(), &meta); err != nil {
		return FetchMeta{}, err
	}
	return meta, nil
}
