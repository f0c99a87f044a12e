package regime

import (
	"time"

	"fx-trading-engine/internal/market"
)

// fallback thresholds on the 0..1 metric scales.
const (
	fallbackExcessSpread = 0.30
	fallbackStrongTrend  = 0.55
	fallbackLowChop      = 0.40
	fallbackHighChop     = 0.60
	fallbackLowTrend     = 0.35
	fallbackTightSpread  = 0.15
)

// FallbackPacket derives a packet purely from metrics when the
// classifier is unavailable. Conservative by construction: anything not
// clearly trending or ranging ends up flat.
func FallbackPacket(m market.PairMetrics, now time.Time) *Packet {
	p := &Packet{
		Pair:        m.Pair,
		GeneratedAt: now,
		RiskState:   RiskStateNormal,
		Source:      "fallback",
		ReasonCodes: []ReasonCode{ReasonFallbackPacket},
	}

	switch {
	case m.SpreadToATR1h > fallbackExcessSpread:
		// Trading costs swamp the edge regardless of structure.
		p.Regime = RegimeHighVol
		p.Permission = PermissionFlat
		p.RiskState = RiskStateElevated
		p.Confidence = 0.60
	case m.Shock:
		p.Regime = RegimeHighVol
		p.Permission = PermissionBoth
		p.RiskState = RiskStateElevated
		p.Confidence = 0.60
	case m.ChopScore > fallbackHighChop && m.TrendStrength < fallbackLowTrend && m.SpreadToATR1h < fallbackTightSpread:
		p.Regime = RegimeRange
		p.Permission = PermissionBoth
		p.Confidence = 0.65
	case m.TrendStrength > fallbackStrongTrend && m.ChopScore < fallbackLowChop:
		if m.TrendDirection == "down" {
			p.Regime = RegimeTrendDown
			p.Permission = PermissionShortOnly
		} else {
			p.Regime = RegimeTrendUp
			p.Permission = PermissionLongOnly
		}
		p.Confidence = 0.70
	default:
		p.Regime = RegimeRange
		p.Permission = PermissionFlat
		p.Confidence = 0.50
	}

	p.AllowedModules = exclusiveModules(p)
	return p
}
