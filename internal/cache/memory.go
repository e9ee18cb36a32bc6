package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"intake-assistant/internal/metrics"
	"intake-assistant/pkg"
)

type memoryEntry struct {
	val       []byte
	expiresAt time.Time
}

// InMemoryCache is the snapshot cache used when Redis is not configured.
// Snapshots are stored encoded so readers get independent copies.
type InMemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewInMemoryCache creates an in-memory snapshot cache.
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &InMemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *InMemoryCache) Get(_ context.Context, sessionID string) (*pkg.ConversationContext, error) {
	c.mu.RLock()
	e, ok := c.entries[sessionID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		metrics.RecordCacheLookup(false)
		return nil, nil
	}
	var cc pkg.ConversationContext
	if err := json.Unmarshal(e.val, &cc); err != nil {
		return nil, err
	}
	metrics.RecordCacheLookup(true)
	return &cc, nil
}

func (c *InMemoryCache) Set(_ context.Context, cc *pkg.ConversationContext) error {
	val, err := json.Marshal(cc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cc.SessionID] = memoryEntry{val: val, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	return nil
}

func (c *InMemoryCache) Ping(context.Context) error { return nil }
