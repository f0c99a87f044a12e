package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis. When Redis is unreachable
// the engine keeps trading on the in-process fallback map so a cache
// outage never aborts a cycle; records written during the outage are
// lost on restart, which is acceptable for cooldown/lock state.
// Availability is an atomic flag because the execute cycle hits the
// store from one goroutine per pair.
type RedisStore struct {
	client    *redis.Client
	fallback  *MemoryStore
	available atomic.Bool
}

// NewRedisStore creates a RedisStore and pings the server once to decide
// the initial availability state.
func NewRedisStore(client *redis.Client) *RedisStore {
	s := &RedisStore{
		client:   client,
		fallback: NewMemoryStore(),
	}
	if client == nil {
		log.Printf("[STORE] no redis client provided, using in-memory store only")
		return s
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[STORE] redis unavailable at startup: %v, using in-memory fallback", err)
		return s
	}
	s.available.Store(true)
	return s
}

func (s *RedisStore) markDown(op string, err error) {
	if s.available.CompareAndSwap(true, false) {
		log.Printf("[STORE] redis %s failed: %v, switching to in-memory fallback", op, err)
	}
}

// Available reports whether Redis is currently serving requests.
func (s *RedisStore) Available() bool {
	return s.available.Load()
}

// CheckConnection pings Redis and updates the availability flag so a
// transient outage does not pin the store to the fallback map.
func (s *RedisStore) CheckConnection(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("no redis client configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.available.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.available.CompareAndSwap(false, true) {
		log.Printf("[STORE] redis connection recovered")
	}
	return nil
}

// GetJSON reads key into dest, reporting existence.
func (s *RedisStore) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.available.Load() {
		return s.fallback.GetJSON(ctx, key, dest)
	}
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		s.markDown("get", err)
		return s.fallback.GetJSON(ctx, key, dest)
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return true, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON writes value at key with an optional ttl, mirroring the write
// into the fallback map.
func (s *RedisStore) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := s.fallback.SetJSON(ctx, key, value, ttl); err != nil {
		return err
	}
	if !s.available.Load() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.markDown("set", err)
	}
	return nil
}

// Delete removes key from both layers.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_ = s.fallback.Delete(ctx, key)
	if !s.available.Load() {
		return nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.markDown("del", err)
	}
	return nil
}

// ListPush prepends a JSON-encoded element to the list at key.
func (s *RedisStore) ListPush(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_ = s.fallback.listPushRaw(key, string(data))
	if !s.available.Load() {
		return nil
	}
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		s.markDown("lpush", err)
	}
	return nil
}

// ListRange returns raw elements from start to stop inclusive.
func (s *RedisStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if !s.available.Load() {
		return s.fallback.ListRange(ctx, key, start, stop)
	}
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		s.markDown("lrange", err)
		return s.fallback.ListRange(ctx, key, start, stop)
	}
	return vals, nil
}

// ListTrim keeps elements from start to stop inclusive.
func (s *RedisStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	_ = s.fallback.ListTrim(ctx, key, start, stop)
	if !s.available.Load() {
		return nil
	}
	if err := s.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		s.markDown("ltrim", err)
	}
	return nil
}

// Keys returns keys matching the glob pattern.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if !s.available.Load() {
		return s.fallback.Keys(ctx, pattern)
	}
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		s.markDown("keys", err)
		return s.fallback.Keys(ctx, pattern)
	}
	return keys, nil
}

// Incr increments the counter at key, applying ttl on first increment.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if !s.available.Load() {
		return s.fallback.Incr(ctx, key, ttl)
	}
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.markDown("incr", err)
		return s.fallback.Incr(ctx, key, ttl)
	}
	if n == 1 && ttl > 0 {
		_ = s.client.Expire(ctx, key, ttl).Err()
	}
	return n, nil
}
