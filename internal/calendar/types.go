// Package calendar implements the economic-calendar event gate: it
// fetches and caches calendar snapshots, matches events to a pair's two
// currencies, and decides whether new entries are blocked.
package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"fx-trading-engine/internal/market"
)

// Impact is an event's expected market impact.
type Impact string

const (
	ImpactLow     Impact = "LOW"
	ImpactMedium  Impact = "MEDIUM"
	ImpactHigh    Impact = "HIGH"
	ImpactUnknown Impact = "UNKNOWN"
)

// ReasonCode tags a gate decision.
type ReasonCode string

const (
	ReasonEventActiveBlock  ReasonCode = "event_active_block"
	ReasonNoActiveEvents    ReasonCode = "no_active_events"
	ReasonStaleDataBlock    ReasonCode = "calendar_stale_block"
	ReasonStaleDataAllowed  ReasonCode = "calendar_stale_risk_normal_allow"
	ReasonRefreshSkipped    ReasonCode = "calendar_refresh_skipped"
	ReasonRefreshFailed     ReasonCode = "calendar_refresh_failed"
	ReasonCallBudgetReached ReasonCode = "calendar_call_budget_reached"
)

// Risk states as supplied by the caller. When unspecified the gate
// assumes elevated, which blocks on stale data.
const (
	RiskStateNormal   = "normal"
	RiskStateElevated = "elevated"
	RiskStateExtreme  = "extreme"
)

// Event is a normalized economic-calendar event. Immutable once built;
// ID is a content hash so repeated fetches deduplicate naturally.
type Event struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"` // UTC
	Currency string    `json:"currency"`
	Impact   Impact    `json:"impact"`
	Name     string    `json:"name"`
	Actual   string    `json:"actual,omitempty"`
	Forecast string    `json:"forecast,omitempty"`
	Previous string    `json:"previous,omitempty"`
	Source   string    `json:"source,omitempty"`
}

// EventID derives the content-hash identity of an event.
func EventID(currency string, t time.Time, name string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", currency, t.UTC().Unix(), name)))
	return hex.EncodeToString(h[:])[:16]
}

// ActiveFor reports whether the event blocks a window containing now.
// The window [Time-pre, Time+post] is inclusive on both ends.
func (e Event) ActiveFor(now time.Time, pre, post time.Duration) bool {
	start := e.Time.Add(-pre)
	end := e.Time.Add(post)
	return !now.Before(start) && !now.After(end)
}

// Snapshot is the cached calendar state.
type Snapshot struct {
	Events    []Event   `json:"events"`
	FetchedAt time.Time `json:"fetched_at"`
}

// FetchMeta records fetch bookkeeping alongside the snapshot.
type FetchMeta struct {
	LastSuccess time.Time `json:"last_success"`
	LastFailure time.Time `json:"last_failure"`
	LastError   string    `json:"last_error,omitempty"`
}

// Stale reports whether the snapshot is older than the configured window.
func (m FetchMeta) Stale(now time.Time, staleAfter time.Duration) bool {
	if m.LastSuccess.IsZero() {
		return true
	}
	return now.Sub(m.LastSuccess) > staleAfter
}

// Decision is the per-pair gate outcome. Recomputed every evaluation and
// never persisted directly.
type Decision struct {
	Pair               market.Pair  `json:"pair"`
	BlockNewEntries    bool         `json:"block_new_entries"`
	AllowNewEntries    bool         `json:"allow_new_entries"`
	AllowRiskReduction bool         `json:"allow_risk_reduction"`
	StaleData          bool         `json:"stale_data"`
	ReasonCodes        []ReasonCode `json:"reason_codes"`
	MatchedEvents      []Event      `json:"matched_events,omitempty"`
	RiskStateApplied   string       `json:"risk_state_applied"`
	ActiveImpactLevels []Impact     `json:"active_impact_levels,omitempty"`
}

// FetchError is the typed error raised by the calendar HTTP client on
// non-2xx or malformed responses.
type FetchError struct {
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("calendar fetch failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("calendar fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
