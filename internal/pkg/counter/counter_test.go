package counter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/app/repository"
	"github.com/mayday-pac/pledgeservice/internal/pkg/cache"
	"github.com/mayday-pac/pledgeservice/internal/pkg/database"
)

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryShardRepository, *cache.MemoryCache) {
	t.Helper()
	shards := repository.NewMemoryShardRepository(2)
	c := cache.NewMemoryCache()
	return NewEngine(shards, c, DefaultShardCount, DefaultCacheTTL), shards, c
}

func TestGetTotalOfUnknownCounterIsZero(t *testing.T) {
	e, _, _ := newTestEngine(t)
	total, err := e.GetTotal(context.Background(), "never-used")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestConcurrentIncrementsSumExactly(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Increment(ctx, "TOTAL", 4200))
		}()
	}
	wg.Wait()

	total, err := e.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, int64(12600), total)
}

func TestNoDoubleCountingAfterRecompute(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Warm the cache so increments also hit the cached value
	_, err := e.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		want int64
	)
	for i := 1; i <= 200; i++ {
		want += int64(i)
		wg.Add(1)
		go func(d int64) {
			defer wg.Done()
			assert.NoError(t, e.Increment(ctx, "TOTAL", d))
		}(int64(i))
	}
	wg.Wait()

	cached, err := e.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, want, cached)

	e.Reset(ctx, "TOTAL")
	recomputed, err := e.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, want, recomputed)
}

func TestResetKeepsShards(t *testing.T) {
	e, _, c := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Increment(ctx, "TOTAL", 100))
	e.Reset(ctx, "TOTAL")
	_, ok := c.Get(ctx, cache.CounterTotalKey("TOTAL"))
	assert.False(t, ok)

	total, err := e.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}

func TestIncrementSpreadsOverShards(t *testing.T) {
	e, shards, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		require.NoError(t, e.Increment(ctx, "TOTAL", 1))
	}
	keys := make([]string, DefaultShardCount)
	for i := range keys {
		keys[i] = models.ShardKey("TOTAL", i)
	}
	rows, err := shards.GetMany(ctx, keys)
	require.NoError(t, err)
	assert.Greater(t, len(rows), 1)
	for _, r := range rows {
		assert.Less(t, r.ShardIndex, DefaultShardCount)
		assert.Equal(t, models.ShardKey("TOTAL", r.ShardIndex), r.ShardKey)
	}
}

func TestIncrementUsesPickedShard(t *testing.T) {
	e, shards, _ := newTestEngine(t)
	e.pick = func(n int) int { return n - 1 }
	ctx := context.Background()

	require.NoError(t, e.Increment(ctx, "TOTAL", 7))
	rows, err := shards.GetMany(ctx, []string{"shard-TOTAL-49"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0].RunningTotal)
}

func TestShrinkingShardCountKeepsOldShards(t *testing.T) {
	shards := repository.NewMemoryShardRepository(2)
	ctx := context.Background()

	wide := NewEngine(shards, cache.NewMemoryCache(), 10, time.Minute)
	wide.pick = func(n int) int { return n - 1 }
	require.NoError(t, wide.Increment(ctx, "TOTAL", 300))

	narrow := NewEngine(shards, cache.NewMemoryCache(), 2, time.Minute)
	narrow.pick = func(int) int { return 0 }
	require.NoError(t, narrow.Increment(ctx, "TOTAL", 200))
	require.NoError(t, wide.Increment(ctx, "OTHER", 1))

	total, err := narrow.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, int64(500), total)
}

func TestIncrementRejectsNegativeDelta(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Increment(context.Background(), "TOTAL", -1), ErrNegativeDelta)
}

func TestCachedTotalIsServedWithoutStore(t *testing.T) {
	e, _, c := newTestEngine(t)
	ctx := context.Background()
	require.True(t, c.Add(ctx, cache.CounterTotalKey("TOTAL"), 555, time.Minute))

	total, err := e.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, int64(555), total)
}

func TestIncrementOnColdCacheLeavesItCold(t *testing.T) {
	e, _, c := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Increment(ctx, "TOTAL", 50))
	_, ok := c.Get(ctx, cache.CounterTotalKey("TOTAL"))
	assert.False(t, ok)
}

func TestContentionIsPropagatedAndCacheUntouched(t *testing.T) {
	e, shards, c := newTestEngine(t)
	ctx := context.Background()

	_, err := e.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)

	var attempts int32
	shards.BeforeIncrement = func(string) error {
		atomic.AddInt32(&attempts, 1)
		return database.ErrConflict
	}
	err = e.Increment(ctx, "TOTAL", 4200)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrContention)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	cached, ok := c.Get(ctx, cache.CounterTotalKey("TOTAL"))
	require.True(t, ok)
	assert.Equal(t, int64(0), cached, "failed increment must not touch the cache")
}

func TestTransientConflictIsRetried(t *testing.T) {
	e, shards, _ := newTestEngine(t)
	ctx := context.Background()

	var attempts int32
	shards.BeforeIncrement = func(string) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return database.ErrConflict
		}
		return nil
	}
	require.NoError(t, e.Increment(ctx, "TOTAL", 10))

	total, err := e.GetTotal(ctx, "TOTAL")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

type failingShards struct {
	repository.ShardRepository
}

func (failingShards) SumByName(context.Context, string) (int64, error) {
	return 0, errors.New("store unavailable")
}

func TestGetTotalSurfacesStoreErrors(t *testing.T) {
	c := cache.NewMemoryCache()
	e := NewEngine(failingShards{}, c, 4, time.Minute)

	_, err := e.GetTotal(context.Background(), "TOTAL")
	assert.Error(t, err)
	_, ok := c.Get(context.Background(), cache.CounterTotalKey("TOTAL"))
	assert.False(t, ok)
}
