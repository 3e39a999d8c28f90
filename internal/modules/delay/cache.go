// README: Short-TTL delay cache (Redis + in-memory).
package delay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps recent delay readings so consecutive ticks do not hammer the
// status feed.
type Cache interface {
	Get(ctx context.Context, vehicleID string) (LiveStatus, bool, error)
	Set(ctx context.Context, vehicleID string, status LiveStatus) error
}

const delayKeyPrefix = "delay:vehicle:%s"

type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, vehicleID string) (LiveStatus, bool, error) {
	val, err := c.redis.Get(ctx, delayKey(vehicleID)).Result()
	if err == redis.Nil {
		return LiveStatus{}, false, nil
	}
	if err != nil {
		return LiveStatus{}, false, err
	}
	var status LiveStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return LiveStatus{}, false, err
	}
	return status, true, nil
}

func (c *RedisCache) Set(ctx context.Context, vehicleID string, status LiveStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, delayKey(vehicleID), data, c.ttl).Err()
}

func delayKey(vehicleID string) string {
	return fmt.Sprintf(delayKeyPrefix, vehicleID)
}

// MemoryCache backs tests and dev mode.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	status    LiveStatus
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *MemoryCache) Get(_ context.Context, vehicleID string) (LiveStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[vehicleID]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, vehicleID)
		return LiveStatus{}, false, nil
	}
	return e.status, true, nil
}

func (c *MemoryCache) Set(_ context.Context, vehicleID string, status LiveStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[vehicleID] = memoryEntry{status: status, expiresAt: c.now().Add(c.ttl)}
	return nil
}
