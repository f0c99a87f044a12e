package store

import "time"

// TimedRecord is the shared shape of every cross-cycle temporal record:
// shock cooldowns, range-fade suspensions, and reentry locks. Validity
// is always judged against a caller-supplied now, never the wall clock.
type TimedRecord struct {
	Pair       string    `json:"pair"`
	Reason     string    `json:"reason"`
	SetAt      time.Time `json:"set_at"`
	ValidUntil time.Time `json:"valid_until"`
}

// Active reports whether the record still binds at the given instant.
// A record expiring exactly now is no longer active.
func (r *TimedRecord) Active(now time.Time) bool {
	if r == nil || r.ValidUntil.IsZero() {
		return false
	}
	return now.Before(r.ValidUntil)
}
