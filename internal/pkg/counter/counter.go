package counter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/app/repository"
	"github.com/mayday-pac/pledgeservice/internal/pkg/cache"
)

const (
	DefaultShardCount = 50
	DefaultCacheTTL   = 60 * time.Second
)

// ErrNegativeDelta is returned for a decreasing increment; the counters only grow.
var ErrNegativeDelta = errors.New("counter: negative delta")

// Engine is a monotonic counter spread over a fixed number of durable shard rows,
// fronted by a short-lived cache of the summed total.
type Engine struct {
	shards     repository.ShardRepository
	cache      cache.AggregateCache
	shardCount int
	ttl        time.Duration

	// pick returns a shard index in [0, n)
	pick func(n int) int
}

func NewEngine(shards repository.ShardRepository, c cache.AggregateCache, shardCount int, ttl time.Duration) *Engine {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Engine{
		shards:     shards,
		cache:      c,
		shardCount: shardCount,
		ttl:        ttl,
		pick:       rand.IntN,
	}
}

// ShardCount returns the number of shards per counter
func (e *Engine) ShardCount() int {
	return e.shardCount
}

// Increment adds delta to one randomly chosen shard of name. The cached total, if present,
// is bumped only after the shard write committed. A returned error means the shard was
// not changed and the caller may retry.
func (e *Engine) Increment(ctx context.Context, name string, delta int64) error {
	if delta < 0 {
		return ErrNegativeDelta
	}
	if delta == 0 {
		return nil
	}

	index := e.pick(e.shardCount)
	if err := e.shards.Increment(ctx, name, index, delta); err != nil {
		return fmt.Errorf("increment %s: %w", models.ShardKey(name, index), err)
	}

	e.cache.Increment(ctx, cache.CounterTotalKey(name), delta)
	return nil
}

// GetTotal returns the cached total or recomputes it from all shard rows of name,
// including rows written under a larger shard count. A never incremented counter is 0.
func (e *Engine) GetTotal(ctx context.Context, name string) (int64, error) {
	key := cache.CounterTotalKey(name)
	if total, ok := e.cache.Get(ctx, key); ok {
		return total, nil
	}

	total, err := e.shards.SumByName(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("read shards of %s: %w", name, err)
	}

	// An increment may have populated the key meanwhile; keep the fresher value.
	if !e.cache.Add(ctx, key, total, e.ttl) {
		log.Debugf("[Counter] Cache for %s already populated, keeping existing value", name)
	}
	return total, nil
}

// Reset drops the cached total of name. Shard rows are untouched, so the next read recomputes.
func (e *Engine) Reset(ctx context.Context, name string) {
	e.cache.Delete(ctx, cache.CounterTotalKey(name))
	log.Infof("[Counter] Cache reset for counter %s", name)
}
