package regime

// ApplyHardRules runs the deterministic safety pass over a packet, in
// this fixed order: confidence floor, extreme risk-state lockout, event
// lockout, module exclusivity. Each rule appends a stable reason code
// only when it changes the packet, so reapplying the pass is a no-op.
func ApplyHardRules(p *Packet, confidenceFloor float64, eventLockout bool) {
	if p.Confidence < confidenceFloor {
		if p.Permission != PermissionFlat {
			p.Permission = PermissionFlat
			p.addReason(ReasonConfidenceFloor)
		}
	}

	if p.RiskState == RiskStateExtreme {
		if !modulesAre(p.AllowedModules, ModuleNone) {
			p.AllowedModules = []Module{ModuleNone}
			p.addReason(ReasonExtremeRiskLockout)
		}
	}

	if eventLockout {
		if p.Regime != RegimeEventRisk || p.Permission != PermissionFlat {
			p.Regime = RegimeEventRisk
			p.Permission = PermissionFlat
			p.addReason(ReasonEventRiskLockout)
		}
	}

	enforceExclusivity(p)
}

// enforceExclusivity forces allowed_modules to the single module owned
// by the current regime, or to none when the permission is flat.
func enforceExclusivity(p *Packet) {
	want := exclusiveModules(p)
	if modulesEqual(p.AllowedModules, want) {
		return
	}
	p.AllowedModules = want
	p.addReason(ReasonModuleExclusivity)
}

func exclusiveModules(p *Packet) []Module {
	if p.Permission == PermissionFlat || modulesAre(p.AllowedModules, ModuleNone) {
		return []Module{ModuleNone}
	}
	switch p.Regime {
	case RegimeTrendUp, RegimeTrendDown:
		return []Module{ModulePullback}
	case RegimeHighVol:
		return []Module{ModuleBreakoutRetest}
	case RegimeRange:
		return []Module{ModuleRangeFade}
	default: // event_risk
		return []Module{ModuleNone}
	}
}

func modulesAre(mods []Module, m Module) bool {
	return len(mods) == 1 && mods[0] == m
}

func modulesEqual(a, b []Module) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
