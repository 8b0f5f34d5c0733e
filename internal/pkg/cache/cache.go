package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/mayday-pac/pledgeservice/internal/pkg/config"
)

// AggregateCache is a volatile key/value store for integer aggregates. Every operation is
// best effort: a failing backend behaves like a miss and is only logged.
type AggregateCache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (int64, bool)
	// Add stores value only if key is absent. Returns true if the value was stored.
	Add(ctx context.Context, key string, value int64, ttl time.Duration) bool
	// Increment adds delta to an existing entry. An absent key stays absent.
	Increment(ctx context.Context, key string, delta int64) bool
	Delete(ctx context.Context, key string)
}

// CounterTotalKey is the cache key of a named counter total
func CounterTotalKey(name string) string {
	return "COUNTER-TOTAL-" + name
}

// TeamTotalKey is the cache key of a team's amount in cents
func TeamTotalKey(team string) string {
	return "TEAM-TOTAL-" + team
}

// TeamPledgesKey is the cache key of a team's pledge count
func TeamPledgesKey(team string) string {
	return "TEAM-PLEDGES-" + team
}

// New selects the cache driver configured by CACHE_DRIVER.
func New(cfg *config.Config) (AggregateCache, *redis.Client, error) {
	switch cfg.CacheDriver {
	case config.DriverMemory:
		log.Info("[Cache] Using in-process memory cache")
		return NewMemoryCache(), nil, nil
	case config.DriverRedis:
		client, err := NewRedisClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisCache(client), client, nil
	}
	return nil, nil, fmt.Errorf("unsupported cache driver %q", cfg.CacheDriver)
}

// NewRedisClient connects to the Redis compatible cache server
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.CacheAddr(),
		Password: cfg.CachePassword,
		DB:       cfg.CacheDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		// Not fatal: reads fall through to the store until the server comes back
		log.Warnf("[Cache] Could not connect to cache at %s: %v", cfg.CacheAddr(), err)
		return client, nil
	}
	log.Infof("[Cache] Successfully connected to cache: %s", pong)
	return client, nil
}

// incrementIfExists never creates the key, so a stale partial value can't appear after expiry.
var incrementIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('INCRBY', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// RedisCache implements AggregateCache on a go-redis client
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (int64, bool) {
	v, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Cache] GET %s failed: %v", key, err)
		}
		return 0, false
	}
	return v, true
}

func (c *RedisCache) Add(ctx context.Context, key string, value int64, ttl time.Duration) bool {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		log.Warnf("[Cache] SETNX %s failed: %v", key, err)
		return false
	}
	return ok
}

func (c *RedisCache) Increment(ctx context.Context, key string, delta int64) bool {
	res, err := incrementIfExists.Run(ctx, c.client, []string{key}, delta).Int64()
	if err != nil {
		log.Warnf("[Cache] INCRBY %s failed: %v", key, err)
		return false
	}
	return res == 1
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Warnf("[Cache] DEL %s failed: %v", key, err)
	}
}

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// MemoryCache is a process-local AggregateCache with per-entry expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}, now: time.Now}
}

// WithClock replaces the time source, for tests
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

// live returns the entry if present and not expired; caller holds mu.
func (c *MemoryCache) live(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return e, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return e, false
	}
	return e, true
}

func (c *MemoryCache) Get(ctx context.Context, key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	return e.value, ok
}

func (c *MemoryCache) Add(ctx context.Context, key string, value int64, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return true
}

func (c *MemoryCache) Increment(ctx context.Context, key string, delta int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return false
	}
	e.value += delta
	c.entries[key] = e
	return true
}

func (c *MemoryCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
