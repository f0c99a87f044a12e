// Package regime classifies each eligible pair's market condition into a
// regime packet. Packets come from the AI classifier when available and
// from a deterministic metric-based fallback otherwise; either way a
// fixed hard-rule pass runs before anything downstream sees them.
package regime

import (
	"time"

	"fx-trading-engine/internal/market"
)

// Regime is a pair's classified market condition.
type Regime string

const (
	RegimeTrendUp   Regime = "trend_up"
	RegimeTrendDown Regime = "trend_down"
	RegimeRange     Regime = "range"
	RegimeHighVol   Regime = "high_vol"
	RegimeEventRisk Regime = "event_risk"
)

// Permission is which trade directions are currently allowed.
type Permission string

const (
	PermissionLongOnly  Permission = "long_only"
	PermissionShortOnly Permission = "short_only"
	PermissionBoth      Permission = "both"
	PermissionFlat      Permission = "flat"
)

// Module names a trading module a packet may allow.
type Module string

const (
	ModulePullback       Module = "pullback"
	ModuleBreakoutRetest Module = "breakout_retest"
	ModuleRangeFade      Module = "range_fade"
	ModuleNone           Module = "none"
)

const (
	RiskStateNormal   = "normal"
	RiskStateElevated = "elevated"
	RiskStateExtreme  = "extreme"
)

// ReasonCode tags a normalization or hard-rule outcome on a packet.
type ReasonCode string

const (
	ReasonFallbackPacket     ReasonCode = "classifier_fallback"
	ReasonFieldCoerced       ReasonCode = "field_coerced"
	ReasonConfidenceFloor    ReasonCode = "confidence_below_floor"
	ReasonExtremeRiskLockout ReasonCode = "risk_state_extreme_lockout"
	ReasonEventRiskLockout   ReasonCode = "event_risk_lockout"
	ReasonModuleExclusivity  ReasonCode = "module_exclusivity_enforced"
)

// Context is the optional higher-timeframe support/resistance context.
// Distances are in 4h-ATR units.
type Context struct {
	NearestSupport    *float64 `json:"nearest_support,omitempty"`
	NearestResistance *float64 `json:"nearest_resistance,omitempty"`
	SupportDistATR    *float64 `json:"support_dist_atr,omitempty"`
	ResistanceDistATR *float64 `json:"resistance_dist_atr,omitempty"`
}

// Packet is the per-pair regime classification for one regime cycle.
type Packet struct {
	Pair           market.Pair  `json:"pair"`
	GeneratedAt    time.Time    `json:"generated_at"`
	Regime         Regime       `json:"regime"`
	Permission     Permission   `json:"permission"`
	AllowedModules []Module     `json:"allowed_modules"`
	RiskState      string       `json:"risk_state"`
	Confidence     float64      `json:"confidence"` // 0..1
	Context        Context      `json:"context"`
	ReasonCodes    []ReasonCode `json:"reason_codes"`
	Source         string       `json:"source"` // "classifier" or "fallback"
}

// Stale reports whether the packet is older than the threshold. A packet
// at exactly the threshold age is still fresh.
func (p *Packet) Stale(now time.Time, staleAfter time.Duration) bool {
	if p == nil || p.GeneratedAt.IsZero() {
		return true
	}
	return now.Sub(p.GeneratedAt) > staleAfter
}

// Allows reports whether the packet permits the module.
func (p *Packet) Allows(m Module) bool {
	for _, am := range p.AllowedModules {
		if am == m {
			return true
		}
	}
	return false
}

// AllowsSide reports whether the permission admits the given direction.
func (p *Packet) AllowsSide(long bool) bool {
	switch p.Permission {
	case PermissionBoth:
		return true
	case PermissionLongOnly:
		return long
	case PermissionShortOnly:
		return !long
	default:
		return false
	}
}

func (p *Packet) addReason(code ReasonCode) {
	for _, c := range p.ReasonCodes {
		if c == code {
			return
		}
	}
	p.ReasonCodes = append(p.ReasonCodes, code)
}

// Snapshot is the persisted regime-cycle output.
type Snapshot struct {
	Packets     map[market.Pair]*Packet `json:"packets"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// Get returns the packet for a pair, nil when absent.
func (s *Snapshot) Get(pair market.Pair) *Packet {
	if s == nil {
		return nil
	}
	return s.Packets[pair]
}

func validRegime(r Regime) bool {
	switch r {
	case RegimeTrendUp, RegimeTrendDown, RegimeRange, RegimeHighVol, RegimeEventRisk:
		return true
	}
	return false
}

func validPermission(p Permission) bool {
	switch p {
	case PermissionLongOnly, PermissionShortOnly, PermissionBoth, PermissionFlat:
		return true
	}
	return false
}

func validModule(m Module) bool {
	switch m {
	case ModulePullback, ModuleBreakoutRetest, ModuleRangeFade, ModuleNone:
		return true
	}
	return false
}

func validRiskState(s string) bool {
	switch s {
	case RiskStateNormal, RiskStateElevated, RiskStateExtreme:
		return true
	}
	return false
}
