package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"intake-assistant/pkg"
)

type snapshotCache interface {
	Get(ctx context.Context, sessionID string) (*pkg.ConversationContext, error)
	Set(ctx context.Context, c *pkg.ConversationContext) error
	Delete(ctx context.Context, sessionID string) error
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, time.Minute), mr
}

func TestCacheRoundTrip(t *testing.T) {
	rc, _ := newRedisCache(t)
	caches := map[string]snapshotCache{
		"redis":  rc,
		"memory": NewInMemoryCache(time.Minute),
	}
	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got, err := c.Get(ctx, "vi_1")
			if err != nil || got != nil {
				t.Fatalf("miss = %v, %v; want nil, nil", got, err)
			}

			snap := &pkg.ConversationContext{
				SessionID:        "vi_1",
				CacheKey:         "conv_vi_1_4",
				MessageCount:     4,
				QuestionAttempts: map[string]int{"onset": 2},
				CollectedData:    map[string]any{"primary_complaint": "cough"},
			}
			if err := c.Set(ctx, snap); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err = c.Get(ctx, "vi_1")
			if err != nil || got == nil {
				t.Fatalf("Get = %v, %v", got, err)
			}
			if got.CacheKey != snap.CacheKey || got.QuestionAttempts["onset"] != 2 {
				t.Errorf("snapshot = %+v", got)
			}

			if err := c.Delete(ctx, "vi_1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if got, _ := c.Get(ctx, "vi_1"); got != nil {
				t.Error("snapshot survived Delete")
			}
		})
	}
}

func TestRedisCacheKeyAndTTL(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, &pkg.ConversationContext{SessionID: "vi_9"}); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("conversation:vi_9") {
		t.Fatal("expected key conversation:vi_9")
	}
	if ttl := mr.TTL("conversation:vi_9"); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if got, _ := c.Get(ctx, "vi_9"); got != nil {
		t.Error("snapshot survived its TTL")
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	_ = c.Set(ctx, &pkg.ConversationContext{SessionID: "vi_1"})

	now = now.Add(59 * time.Second)
	if got, _ := c.Get(ctx, "vi_1"); got == nil {
		t.Fatal("snapshot expired early")
	}
	now = now.Add(2 * time.Second)
	if got, _ := c.Get(ctx, "vi_1"); got != nil {
		t.Error("snapshot survived its TTL")
	}
}
