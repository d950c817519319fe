package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, _ any, ttl time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.keys[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func TestRedisSeenThenMark(t *testing.T) {
	ctx := context.Background()
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	r := NewRedis(fake, "main", time.Hour)

	for i := 0; i < 2; i++ {
		if seen, err := r.Seen(ctx, "e1"); err != nil || seen {
			t.Fatalf("Seen before Mark = %v, %v; want false", seen, err)
		}
	}
	if err := r.Mark(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if seen, err := r.Seen(ctx, "e1"); err != nil || !seen {
		t.Fatalf("Seen after Mark = %v, %v; want true", seen, err)
	}
	if ttl, ok := fake.keys["wppsync:dedupe:main:e1"]; !ok || ttl != time.Hour {
		t.Errorf("keys = %v", fake.keys)
	}

	// Sessions do not share ids.
	other := NewRedis(fake, "other", time.Hour)
	if seen, _ := other.Seen(ctx, "e1"); seen {
		t.Error("other session saw e1")
	}
}

func TestRedisError(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewRedis(&fakeRedis{err: boom}, "main", time.Hour)
	if _, err := r.Seen(context.Background(), "e1"); !errors.Is(err, boom) {
		t.Errorf("Seen err = %v, want %v", err, boom)
	}
	if err := r.Mark(context.Background(), "e1"); !errors.Is(err, boom) {
		t.Errorf("Mark err = %v, want %v", err, boom)
	}
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	if seen, _ := m.Seen(ctx, "e1"); seen {
		t.Fatal("unmarked id seen")
	}
	if m.Len() != 0 {
		t.Fatalf("Seen must not mark: Len = %d", m.Len())
	}
	_ = m.Mark(ctx, "e1")
	if seen, _ := m.Seen(ctx, "e1"); !seen {
		t.Fatal("marked id not seen")
	}

	now = now.Add(2 * time.Minute)
	_ = m.Mark(ctx, "e2")
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1 after sweep", m.Len())
	}
	if seen, _ := m.Seen(ctx, "e1"); seen {
		t.Error("expired id still seen")
	}
}
