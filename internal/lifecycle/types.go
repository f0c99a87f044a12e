// Package lifecycle owns open positions: exit and invalidation rules,
// trim/breakeven management, progress measurement, and reentry-lock
// resolution. A position moves OPEN -> (WAIT | TRIM | CLOSE) on every
// management pass.
package lifecycle

import (
	"time"

	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/modules"
	"fx-trading-engine/internal/regime"
)

// Action is the outcome of one management pass.
type Action string

const (
	ActionWait  Action = "WAIT"
	ActionTrim  Action = "TRIM"
	ActionClose Action = "CLOSE"
)

// ReasonCode tags a lifecycle decision.
type ReasonCode string

const (
	ReasonStopInvalidatedLong  ReasonCode = "stop_invalidated_long"
	ReasonStopInvalidatedShort ReasonCode = "stop_invalidated_short"
	ReasonStructuralInvalid    ReasonCode = "structural_regime_flip"
	ReasonNoFollowThrough      ReasonCode = "time_stop_no_follow_through"
	ReasonMaxHold              ReasonCode = "time_stop_max_hold"
	ReasonMaxHoldExempt        ReasonCode = "max_hold_trailing_exempt"
	ReasonTP1Trim              ReasonCode = "tp1_partial_take"
	ReasonEventForceClose      ReasonCode = "event_force_close"
	ReasonHolding              ReasonCode = "holding"
	ReasonCannotEvaluate       ReasonCode = "cannot_evaluate"
)

// Position is the persisted context of one open position. Created on
// open, mutated only by the lifecycle manager, cleared on full close.
type Position struct {
	Pair                market.Pair    `json:"pair"`
	Side                modules.Side   `json:"side"`
	EntryModule         regime.Module  `json:"entry_module"`
	EntryPrice          float64        `json:"entry_price"`
	InitialStopPrice    float64        `json:"initial_stop_price"`
	CurrentStopPrice    float64        `json:"current_stop_price"`
	InitialRiskDistance float64        `json:"initial_risk_distance"`
	Size                float64        `json:"size"` // base-currency units
	Notional            float64        `json:"notional"`
	PartialTakenPct     float64        `json:"partial_taken_pct"`
	TrailingActive      bool           `json:"trailing_active"`
	TrailingMode        string         `json:"trailing_mode,omitempty"`
	TP1Price            *float64       `json:"tp1_price,omitempty"`
	TP2Price            *float64       `json:"tp2_price,omitempty"`
	OpenedAt            time.Time      `json:"opened_at"`
	LastManagedAt       time.Time      `json:"last_managed_at"`
	LastCloseAt         *time.Time     `json:"last_close_at,omitempty"`
	PacketAtEntry       *regime.Packet `json:"packet_at_entry,omitempty"`
}

// Long reports whether the position is a buy.
func (p *Position) Long() bool { return p.Side == modules.SideBuy }

// Decision is the result of one management pass.
type Decision struct {
	Action      Action       `json:"action"`
	ReasonCodes []ReasonCode `json:"reason_codes"`
	NewStop     *float64     `json:"new_stop,omitempty"`  // set on TRIM (breakeven move)
	ClosePct    float64      `json:"close_pct,omitempty"` // portion closed on TRIM
}

// Progress measures how a position has developed since entry.
type Progress struct {
	AgeBars      int     `json:"age_bars"`
	ElapsedHours float64 `json:"elapsed_hours"`
	RiskUnit     float64 `json:"risk_unit"` // |entry - initial stop|
	MFER         float64 `json:"mfe_r"`     // best favorable excursion in R
}
