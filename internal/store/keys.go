package store

import (
	"fmt"
	"time"
)

// Key layout. Everything the engine persists is namespaced under "fx:".
const (
	keyScanSnapshot   = "fx:scan:snapshot"
	keyPacketSnapshot = "fx:regime:snapshot"
	keyEventSnapshot  = "fx:calendar:snapshot"
	keyEventMeta      = "fx:calendar:meta"
	keyJournal        = "fx:journal"
)

// ScanSnapshotKey is the key for the latest universe scan snapshot.
func ScanSnapshotKey() string { return keyScanSnapshot }

// PacketSnapshotKey is the key for the latest regime packet snapshot.
func PacketSnapshotKey() string { return keyPacketSnapshot }

// EventSnapshotKey is the key for the cached economic-calendar snapshot.
func EventSnapshotKey() string { return keyEventSnapshot }

// EventMetaKey is the key for calendar fetch metadata.
func EventMetaKey() string { return keyEventMeta }

// JournalKey is the key for the audit journal list.
func JournalKey() string { return keyJournal }

// CalendarCallsKey is the per-day calendar call counter key.
func CalendarCallsKey(day time.Time) string {
	return fmt.Sprintf("fx:calendar:calls:%s", day.UTC().Format("2006-01-02"))
}

// ShockCooldownKey is the per-pair volatility-shock cooldown record.
func ShockCooldownKey(pair string) string {
	return fmt.Sprintf("fx:cooldown:shock:%s", pair)
}

// RangeFadeCooldownKey is the per-pair range-fade kill-switch suspension.
func RangeFadeCooldownKey(pair string) string {
	return fmt.Sprintf("fx:cooldown:rangefade:%s", pair)
}

// PositionKey is the per-pair open position context record.
func PositionKey(pair string) string {
	return fmt.Sprintf("fx:position:%s", pair)
}

// PositionKeyPattern matches all position context records.
func PositionKeyPattern() string { return "fx:position:*" }

// ReentryLockKey is the per-pair reentry lock record.
func ReentryLockKey(pair string) string {
	return fmt.Sprintf("fx:lock:reentry:%s", pair)
}
