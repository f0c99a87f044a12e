// Package journal is the append-only audit trail. Entries are bounded
// two ways: a per-entry byte cap enforced by progressively dropping
// low-priority payload fields, and a capped list length with
// oldest-first eviction.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/store"
)

// EntryType classifies a journal entry.
type EntryType string

const (
	TypeScan         EntryType = "scan"
	TypeRegime       EntryType = "regime"
	TypeExecution    EntryType = "execution"
	TypeEventRefresh EntryType = "event_refresh"
)

// Level is the entry severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one audit record.
type Entry struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        EntryType              `json:"type"`
	Pair        market.Pair            `json:"pair,omitempty"`
	Level       Level                  `json:"level"`
	ReasonCodes []string               `json:"reason_codes,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// payloadDropOrder lists payload fields from least to most important.
// Oversized entries shed them front to back.
var payloadDropOrder = []string{"candles", "metrics", "snapshot", "packet", "usage", "decision"}

// Journal writes entries to the store's journal list.
type Journal struct {
	store store.Store
	cfg   config.JournalConfig
	log   *logging.Logger
}

// New creates a journal.
func New(st store.Store, cfg config.JournalConfig, log *logging.Logger) *Journal {
	return &Journal{store: st, cfg: cfg, log: log.WithComponent("journal")}
}

// Append records one entry. The caller supplies the timestamp; the
// journal assigns the ID and enforces both size bounds.
func (j *Journal) Append(ctx context.Context, entry Entry) error {
	entry.ID = uuid.New().String()

	raw, err := j.encode(entry)
	if err != nil {
		return err
	}
	if err := j.store.ListPush(ctx, store.JournalKey(), raw); err != nil {
		return err
	}
	if j.cfg.MaxEntries > 0 {
		if err := j.store.ListTrim(ctx, store.JournalKey(), 0, int64(j.cfg.MaxEntries-1)); err != nil {
			j.log.Warn("journal trim failed", "error", err)
		}
	}
	return nil
}

// encode marshals the entry, shedding payload fields until it fits the
// per-entry byte cap. The payload disappears entirely before any of the
// identifying fields do.
func (j *Journal) encode(entry Entry) (string, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	if j.cfg.MaxEntryBytes <= 0 || len(raw) <= j.cfg.MaxEntryBytes {
		return string(raw), nil
	}

	for _, key := range payloadDropOrder {
		if _, ok := entry.Payload[key]; !ok {
			continue
		}
		delete(entry.Payload, key)
		if raw, err = json.Marshal(entry); err != nil {
			return "", err
		}
		if len(raw) <= j.cfg.MaxEntryBytes {
			return string(raw), nil
		}
	}

	entry.Payload = nil
	if raw, err = json.Marshal(entry); err != nil {
		return "", err
	}
	return string(raw), nil
}

// Recent returns up to n newest entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	raws, err := j.store.ListRange(ctx, store.JournalKey(), 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			j.log.Warn("skipping malformed journal entry", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
