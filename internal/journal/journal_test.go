package journal

import (
	"context"
	"strings"
	"testing"
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/store"
)

var jNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testJournal(maxEntries, maxBytes int) (*Journal, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	cfg := config.JournalConfig{MaxEntries: maxEntries, MaxEntryBytes: maxBytes}
	return New(mem, cfg, logging.Default()), mem
}

func TestAppendAssignsIDAndRoundTrips(t *testing.T) {
	j, _ := testJournal(10, 4096)
	err := j.Append(context.Background(), Entry{
		Timestamp:   jNow,
		Type:        TypeExecution,
		Pair:        "EURUSD",
		Level:       LevelInfo,
		ReasonCodes: []string{"risk_checks_clear", "pullback_ema_cross"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.ID == "" {
		t.Error("entry ID not assigned")
	}
	if e.Type != TypeExecution || e.Pair != "EURUSD" || len(e.ReasonCodes) != 2 {
		t.Errorf("round trip lost fields: %+v", e)
	}
}

func TestOldestFirstEviction(t *testing.T) {
	j, _ := testJournal(3, 4096)
	for i, pair := range []string{"AAA111", "BBB222", "CCC333", "DDD444"} {
		err := j.Append(context.Background(), Entry{
			Timestamp: jNow.Add(time.Duration(i) * time.Minute),
			Type:      TypeScan,
			Pair:      market.Pair(pair),
			Level:     LevelInfo,
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Newest first; the oldest entry is gone.
	if entries[0].Pair != "DDD444" || entries[2].Pair != "BBB222" {
		t.Errorf("wrong eviction order: %v, %v", entries[0].Pair, entries[2].Pair)
	}
}

func TestOversizedEntryShedsPayloadFields(t *testing.T) {
	j, _ := testJournal(10, 400)
	err := j.Append(context.Background(), Entry{
		Timestamp:   jNow,
		Type:        TypeExecution,
		Pair:        "EURUSD",
		Level:       LevelInfo,
		ReasonCodes: []string{"breakout_retest_confirmed"},
		Payload: map[string]interface{}{
			"decision": "opened",
			"candles":  strings.Repeat("x", 2000),
		},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := j.Recent(context.Background(), 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Recent: %v (%d entries)", err, len(entries))
	}
	e := entries[0]
	if _, ok := e.Payload["candles"]; ok {
		t.Error("low-priority payload field survived the byte cap")
	}
	if e.Payload["decision"] != "opened" {
		t.Errorf("high-priority payload field dropped: %v", e.Payload)
	}
	if len(e.ReasonCodes) != 1 || e.Pair != "EURUSD" {
		t.Errorf("identifying fields lost: %+v", e)
	}
}
