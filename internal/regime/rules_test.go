package regime

import (
	"reflect"
	"testing"
	"time"

	"fx-trading-engine/internal/market"
)

var ruleNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func basePacket() *Packet {
	return &Packet{
		Pair:           market.Pair("EURUSD"),
		GeneratedAt:    ruleNow,
		Regime:         RegimeTrendUp,
		Permission:     PermissionLongOnly,
		AllowedModules: []Module{ModulePullback},
		RiskState:      RiskStateNormal,
		Confidence:     0.8,
		Source:         "classifier",
	}
}

func TestConfidenceFloorForcesFlat(t *testing.T) {
	p := basePacket()
	p.Confidence = 0.54
	ApplyHardRules(p, 0.55, false)

	if p.Permission != PermissionFlat {
		t.Errorf("permission = %s, want flat", p.Permission)
	}
	if !modulesAre(p.AllowedModules, ModuleNone) {
		t.Errorf("flat permission must force modules to none, got %v", p.AllowedModules)
	}
	if !hasReason(p, ReasonConfidenceFloor) {
		t.Errorf("missing confidence-floor reason: %v", p.ReasonCodes)
	}
}

func TestConfidenceAtFloorPasses(t *testing.T) {
	p := basePacket()
	p.Confidence = 0.55
	ApplyHardRules(p, 0.55, false)
	if p.Permission != PermissionLongOnly {
		t.Errorf("permission = %s, want long_only", p.Permission)
	}
}

func TestExtremeRiskStateForcesNone(t *testing.T) {
	p := basePacket()
	p.RiskState = RiskStateExtreme
	ApplyHardRules(p, 0.55, false)

	if !modulesAre(p.AllowedModules, ModuleNone) {
		t.Errorf("modules = %v, want [none]", p.AllowedModules)
	}
	if !hasReason(p, ReasonExtremeRiskLockout) {
		t.Errorf("missing extreme-risk reason: %v", p.ReasonCodes)
	}
}

func TestEventLockoutOverridesRegime(t *testing.T) {
	p := basePacket()
	ApplyHardRules(p, 0.55, true)

	if p.Regime != RegimeEventRisk || p.Permission != PermissionFlat {
		t.Errorf("got regime=%s permission=%s, want event_risk/flat", p.Regime, p.Permission)
	}
	if !modulesAre(p.AllowedModules, ModuleNone) {
		t.Errorf("modules = %v, want [none]", p.AllowedModules)
	}
	if !hasReason(p, ReasonEventRiskLockout) {
		t.Errorf("missing event-lockout reason: %v", p.ReasonCodes)
	}
}

func TestModuleExclusivityPerRegime(t *testing.T) {
	tests := []struct {
		regime     Regime
		permission Permission
		want       Module
	}{
		{RegimeTrendUp, PermissionLongOnly, ModulePullback},
		{RegimeTrendDown, PermissionShortOnly, ModulePullback},
		{RegimeHighVol, PermissionBoth, ModuleBreakoutRetest},
		{RegimeRange, PermissionBoth, ModuleRangeFade},
		{RegimeEventRisk, PermissionBoth, ModuleNone},
	}
	for _, tt := range tests {
		t.Run(string(tt.regime), func(t *testing.T) {
			p := basePacket()
			p.Regime = tt.regime
			p.Permission = tt.permission
			// Classifier handed back an over-broad module list.
			p.AllowedModules = []Module{ModulePullback, ModuleBreakoutRetest, ModuleRangeFade}
			ApplyHardRules(p, 0.55, false)

			if !modulesAre(p.AllowedModules, tt.want) {
				t.Errorf("modules = %v, want [%s]", p.AllowedModules, tt.want)
			}
		})
	}
}

func TestHardRulesIdempotent(t *testing.T) {
	packets := []*Packet{basePacket(), basePacket(), basePacket(), basePacket()}
	packets[1].Confidence = 0.2
	packets[2].RiskState = RiskStateExtreme
	packets[3].Regime = RegimeRange
	packets[3].AllowedModules = []Module{ModulePullback}

	for i, p := range packets {
		lockout := i == 3
		ApplyHardRules(p, 0.55, lockout)
		first := *p
		firstMods := append([]Module(nil), p.AllowedModules...)
		firstReasons := append([]ReasonCode(nil), p.ReasonCodes...)

		ApplyHardRules(p, 0.55, lockout)
		if p.Regime != first.Regime || p.Permission != first.Permission {
			t.Errorf("packet %d changed on reapply", i)
		}
		if !reflect.DeepEqual(p.AllowedModules, firstMods) {
			t.Errorf("packet %d modules changed on reapply: %v -> %v", i, firstMods, p.AllowedModules)
		}
		if !reflect.DeepEqual(p.ReasonCodes, firstReasons) {
			t.Errorf("packet %d reasons grew on reapply: %v -> %v", i, firstReasons, p.ReasonCodes)
		}
	}
}

func TestPacketInvariantsAfterRules(t *testing.T) {
	// Whatever rules fire, flat permission always implies modules == [none].
	for _, conf := range []float64{0.1, 0.54, 0.55, 0.9} {
		for _, rs := range []string{RiskStateNormal, RiskStateElevated, RiskStateExtreme} {
			for _, lockout := range []bool{false, true} {
				p := basePacket()
				p.Confidence = conf
				p.RiskState = rs
				ApplyHardRules(p, 0.55, lockout)

				if p.Permission == PermissionFlat && !modulesAre(p.AllowedModules, ModuleNone) {
					t.Fatalf("flat with modules %v (conf=%.2f rs=%s lockout=%t)", p.AllowedModules, conf, rs, lockout)
				}
				if conf < 0.55 && p.Permission != PermissionFlat {
					t.Fatalf("confidence %.2f left permission %s", conf, p.Permission)
				}
			}
		}
	}
}

func TestPacketStalenessBoundary(t *testing.T) {
	generated := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	p := &Packet{GeneratedAt: generated}
	threshold := 120 * time.Minute

	if p.Stale(generated.Add(threshold), threshold) {
		t.Error("packet at exactly the threshold age must not be stale")
	}
	if !p.Stale(generated.Add(threshold+time.Millisecond), threshold) {
		t.Error("packet one millisecond past the threshold must be stale")
	}
	var nilPacket *Packet
	if !nilPacket.Stale(generated, threshold) {
		t.Error("nil packet must be stale")
	}
}

func hasReason(p *Packet, code ReasonCode) bool {
	for _, c := range p.ReasonCodes {
		if c == code {
			return true
		}
	}
	return false
}
