// Package dedupe remembers envelope ids so redelivered broker messages are
// applied once.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces the Redis keys written by the filter.
const KeyPrefix = "wppsync:dedupe:"

type keyValueStore interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Redis is a filter shared by every daemon using the same Redis database.
type Redis struct {
	client keyValueStore
	prefix string
	ttl    time.Duration
}

// NewRedisClient opens a client the way the daemon configures it.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedis returns a filter storing ids of session with the given ttl.
func NewRedis(client keyValueStore, session string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: KeyPrefix + session + ":", ttl: ttl}
}

// Seen reports whether id was marked. It does not mark it.
func (r *Redis) Seen(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records id as applied for the filter's ttl.
func (r *Redis) Mark(ctx context.Context, id string) error {
	return r.client.Set(ctx, r.prefix+id, 1, r.ttl).Err()
}

// Memory is a process-local filter.
type Memory struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
	sweep time.Time
}

// NewMemory returns an empty filter forgetting ids after ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Seen reports whether id was marked and has not expired.
func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expire(now)
	exp, ok := m.seen[id]
	return ok && now.Before(exp), nil
}

// Mark records id as applied.
func (m *Memory) Mark(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expire(now)
	m.seen[id] = now.Add(m.ttl)
	return nil
}

// expire drops expired ids, at most once per ttl.
func (m *Memory) expire(now time.Time) {
	if now.Sub(m.sweep) < m.ttl {
		return
	}
	for k, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, k)
		}
	}
	m.sweep = now
}

// Len returns the number of remembered ids.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
