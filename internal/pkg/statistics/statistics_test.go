package statistics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/app/repository"
	"github.com/mayday-pac/pledgeservice/internal/pkg/cache"
	"github.com/mayday-pac/pledgeservice/internal/pkg/counter"
	"github.com/mayday-pac/pledgeservice/internal/pkg/teamledger"
)

type fixture struct {
	repos   *repository.Repositories
	cache   *cache.MemoryCache
	engine  *counter.Engine
	service *Service
}

func newFixture(addends int64) *fixture {
	repos := repository.NewMemoryRepositories(2)
	c := cache.NewMemoryCache()
	engine := counter.NewEngine(repos.Shard, c, 10, time.Minute)
	ledger := teamledger.New(repos.Pledge, repos.TeamTotal)
	return &fixture{
		repos:  repos,
		cache:  c,
		engine: engine,
		service: NewService(engine, ledger, repos, c, Options{
			CounterName:  "TOTAL",
			FixedAddends: addends,
		}),
	}
}

func (f *fixture) pledge(t *testing.T, team string, cents int64) {
	t.Helper()
	p, err := models.NewPledge("donor@example.com", cents, models.PledgeTypeDonation, team, false)
	require.NoError(t, err)
	require.NoError(t, f.repos.Pledge.Create(context.Background(), p))
}

func TestGrandTotalIncludesAddendsAndStretch(t *testing.T) {
	f := newFixture(1000)
	ctx := context.Background()
	require.NoError(t, f.engine.Increment(ctx, "TOTAL", 4200))

	total, err := f.service.GrandTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5200), total)

	require.NoError(t, f.service.SetStretchTotal(ctx, 300))
	total, err = f.service.GrandTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5500), total)

	assert.Error(t, f.service.SetStretchTotal(ctx, -1))
}

func TestSetStretchTotalResetsCachedTotal(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	require.True(t, f.cache.Add(ctx, cache.CounterTotalKey("TOTAL"), 99, time.Minute))

	require.NoError(t, f.service.SetStretchTotal(ctx, 0))
	_, ok := f.cache.Get(ctx, cache.CounterTotalKey("TOTAL"))
	assert.False(t, ok)
}

func TestGrandTotalIgnoresBrokenStretchSetting(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	require.NoError(t, f.repos.Setting.SetValue(ctx, models.SettingStretchCheckTotal, "lots"))
	require.NoError(t, f.engine.Increment(ctx, "TOTAL", 10))

	total, err := f.service.GrandTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestTeamStatsScansAndCaches(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	f.pledge(t, "rocket", 1000)
	f.pledge(t, "rocket", 2500)
	f.pledge(t, "other", 1)

	stats, err := f.service.TeamStats(ctx, "rocket")
	require.NoError(t, err)
	assert.Equal(t, TeamStats{Team: "rocket", TeamPledges: 2, TeamTotalCents: 3500}, stats)

	v, ok := f.cache.Get(ctx, cache.TeamTotalKey("rocket"))
	require.True(t, ok)
	assert.Equal(t, int64(3500), v)
	v, ok = f.cache.Get(ctx, cache.TeamPledgesKey("rocket"))
	require.True(t, ok)
	assert.Equal(t, int64(2), v)
}

func TestTeamStatsPrefersCache(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	f.cache.Add(ctx, cache.TeamTotalKey("rocket"), 777, time.Minute)
	f.cache.Add(ctx, cache.TeamPledgesKey("rocket"), 7, time.Minute)

	stats, err := f.service.TeamStats(ctx, "rocket")
	require.NoError(t, err)
	assert.Equal(t, int64(777), stats.TeamTotalCents)
	assert.Equal(t, int64(7), stats.TeamPledges)
}

func TestTeamStatsWithoutTeam(t *testing.T) {
	f := newFixture(0)
	stats, err := f.service.TeamStats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, TeamStats{}, stats)
}

type brokenScan struct {
	repository.PledgeRepository
}

func (brokenScan) SumByTeam(context.Context, string) (repository.TeamSum, error) {
	return repository.TeamSum{}, errors.New("scan timed out")
}

func TestTeamStatsFallsBackToLedger(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	ledger := teamledger.New(f.repos.Pledge, f.repos.TeamTotal)
	require.NoError(t, ledger.Add(ctx, "rocket", 4200))

	repos := *f.repos
	repos.Pledge = brokenScan{f.repos.Pledge}
	svc := NewService(f.engine, teamledger.New(repos.Pledge, repos.TeamTotal), &repos, f.cache, Options{})

	stats, err := svc.TeamStats(ctx, "rocket")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), stats.TeamTotalCents)
	assert.Equal(t, int64(1), stats.TeamPledges)
}

func TestResetCounter(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()
	f.cache.Add(ctx, cache.CounterTotalKey("OTHER"), 5, time.Minute)
	f.service.ResetCounter(ctx, "OTHER")
	_, ok := f.cache.Get(ctx, cache.CounterTotalKey("OTHER"))
	assert.False(t, ok)
	assert.Equal(t, "TOTAL", f.service.CounterName())
}
