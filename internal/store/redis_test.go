package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// A client pointed at a closed port fails every command immediately.
func deadClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisStoreStartsDownWithoutServer(t *testing.T) {
	st := NewRedisStore(deadClient())
	if st.Available() {
		t.Fatal("store should start unavailable when the ping fails")
	}

	ctx := context.Background()
	if err := st.SetJSON(ctx, "k", map[string]string{"pair": "EURUSD"}, 0); err != nil {
		t.Fatalf("SetJSON via fallback: %v", err)
	}
	var dest map[string]string
	found, err := st.GetJSON(ctx, "k", &dest)
	if err != nil || !found || dest["pair"] != "EURUSD" {
		t.Fatalf("fallback read: found=%v err=%v dest=%v", found, err, dest)
	}
}

// Degradation during the execute cycle's per-pair fan-out: many
// goroutines hit the store while it flips to the fallback map. The
// availability flag is atomic, so concurrent markDown calls and reads
// must be safe and every call must still be served.
func TestRedisStoreConcurrentDegradation(t *testing.T) {
	st := &RedisStore{
		client:   deadClient(),
		fallback: NewMemoryStore(),
	}
	st.available.Store(true)

	ctx := context.Background()
	if err := st.fallback.SetJSON(ctx, "seed", map[string]int{"n": 1}, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var dest map[string]int
			if _, err := st.GetJSON(ctx, "seed", &dest); err != nil {
				errs <- err
			}
			if err := st.SetJSON(ctx, "seed", map[string]int{"n": 2}, 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("call failed during degradation: %v", err)
	}

	if st.Available() {
		t.Error("store should be marked unavailable after command failures")
	}
	var dest map[string]int
	if found, err := st.GetJSON(ctx, "seed", &dest); err != nil || !found {
		t.Errorf("fallback must keep serving after degradation: found=%v err=%v", found, err)
	}
}

func TestCheckConnectionStaysDownWhileUnreachable(t *testing.T) {
	st := NewRedisStore(deadClient())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := st.CheckConnection(ctx); err == nil {
		t.Fatal("ping against a closed port must error")
	}
	if st.Available() {
		t.Error("failed health check must leave the store unavailable")
	}
}
