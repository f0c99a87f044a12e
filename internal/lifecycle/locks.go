package lifecycle

import "time"

// ReentryLock maps a close reason to the cooldown before the pair may
// open again. Stop-invalidation locks double under stress; reasons with
// no configured mapping produce no lock at all.
func (m *Manager) ReentryLock(reason ReasonCode, stress bool) *time.Duration {
	switch reason {
	case ReasonEventForceClose:
		return minsPtr(m.cfg.EventLockMins)
	case ReasonStructuralInvalid:
		return minsPtr(m.cfg.RegimeFlipLockMins)
	case ReasonNoFollowThrough, ReasonMaxHold:
		return minsPtr(m.cfg.TimeStopLockMins)
	case ReasonStopInvalidatedLong, ReasonStopInvalidatedShort:
		mins := m.cfg.StopLockMins
		if stress {
			mins *= 2
		}
		return minsPtr(mins)
	default:
		return nil
	}
}

func minsPtr(mins int) *time.Duration {
	d := time.Duration(mins) * time.Minute
	return &d
}
