package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreJSONRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	type rec struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	var missing rec
	found, err := st.GetJSON(ctx, "absent", &missing)
	if err != nil || found {
		t.Fatalf("absent key: found=%v err=%v", found, err)
	}

	if err := st.SetJSON(ctx, "k", rec{Name: "EURUSD", Score: 0.72}, 0); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got rec
	found, err = st.GetJSON(ctx, "k", &got)
	if err != nil || !found {
		t.Fatalf("GetJSON: found=%v err=%v", found, err)
	}
	if got.Name != "EURUSD" || got.Score != 0.72 {
		t.Errorf("round trip = %+v", got)
	}

	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if found, _ = st.GetJSON(ctx, "k", &got); found {
		t.Error("deleted key still readable")
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })

	if err := st.SetJSON(ctx, "cooldown", map[string]string{"pair": "EURUSD"}, 45*time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var dest map[string]string
	now = now.Add(44 * time.Minute)
	if found, _ := st.GetJSON(ctx, "cooldown", &dest); !found {
		t.Fatal("record expired early")
	}

	now = now.Add(2 * time.Minute)
	if found, _ := st.GetJSON(ctx, "cooldown", &dest); found {
		t.Fatal("record survived past its TTL")
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		if err := st.ListPush(ctx, "journal", v); err != nil {
			t.Fatalf("ListPush: %v", err)
		}
	}

	raws, err := st.ListRange(ctx, "journal", 0, -1)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if len(raws) != 3 || raws[0] != `"c"` || raws[2] != `"a"` {
		t.Fatalf("range = %v, want newest first", raws)
	}

	// Trim keeps the newest two, dropping the oldest entry.
	if err := st.ListTrim(ctx, "journal", 0, 1); err != nil {
		t.Fatalf("ListTrim: %v", err)
	}
	raws, _ = st.ListRange(ctx, "journal", 0, -1)
	if len(raws) != 2 || raws[1] != `"b"` {
		t.Fatalf("after trim = %v", raws)
	}
}

func TestMemoryStoreKeysPattern(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for _, pair := range []string{"EURUSD", "GBPUSD"} {
		if err := st.SetJSON(ctx, PositionKey(pair), map[string]string{"pair": pair}, 0); err != nil {
			t.Fatalf("SetJSON: %v", err)
		}
	}
	if err := st.SetJSON(ctx, ScanSnapshotKey(), map[string]int{"rows": 2}, 0); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	keys, err := st.Keys(ctx, PositionKeyPattern())
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v, want only the two position keys", keys)
	}
}

func TestMemoryStoreIncr(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	key := CalendarCallsKey(day)
	for want := int64(1); want <= 3; want++ {
		got, err := st.Incr(ctx, key, 48*time.Hour)
		if err != nil || got != want {
			t.Fatalf("Incr #%d = %d, err %v", want, got, err)
		}
	}
}
