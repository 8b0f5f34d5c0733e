package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/internal/pkg/config"
)

func TestFactoryMemoryDriver(t *testing.T) {
	f := NewFactory(&config.Config{DBDriver: config.DriverMemory, TxMaxRetries: 2})

	repos, err := f.GetRepositories()
	require.NoError(t, err)
	assert.IsType(t, &MemoryPledgeRepository{}, repos.Pledge)
	assert.IsType(t, &MemoryShardRepository{}, repos.Shard)

	again, err := f.GetRepositories()
	require.NoError(t, err)
	assert.Same(t, repos, again)
	assert.NoError(t, f.Close())
}

func TestFactorySQLiteDriver(t *testing.T) {
	cfg := &config.Config{
		AppEnv:       "test",
		DBDriver:     config.DriverSQLite,
		DBPath:       filepath.Join(t.TempDir(), "factory.db"),
		TxMaxRetries: 2,
	}
	f := NewFactory(cfg)
	repos, err := f.GetRepositories()
	if err != nil {
		t.Skipf("Skipping SQLite-dependent test: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	require.NoError(t, repos.Shard.Increment(ctx, "TOTAL", 0, 10))
	shards, err := repos.Shard.GetMany(ctx, []string{models.ShardKey("TOTAL", 0)})
	require.NoError(t, err)
	require.Len(t, shards, 1)
	assert.Equal(t, int64(10), shards[0].RunningTotal)
}

func TestMemoryPledgeRepository(t *testing.T) {
	repo := NewMemoryPledgeRepository()
	ctx := context.Background()

	createPledge(t, repo, "b-team", 100, 9)
	createPledge(t, repo, "a-team", 200, 8)
	createPledge(t, repo, "b-team", 300, 9)
	createPledge(t, repo, "", 400, 9)

	teams, err := repo.ListTeamsAfter(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-team", "b-team"}, teams)

	teams, err = repo.ListTeamsAfter(ctx, "a-team", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-team"}, teams)

	sum, err := repo.SumByTeam(ctx, "b-team")
	require.NoError(t, err)
	assert.Equal(t, TeamSum{TotalCents: 400, PledgeCount: 2}, sum)

	legacy, err := repo.ListLegacyByTeam(ctx, "a-team", models.TeamLedgerModelVersion)
	require.NoError(t, err)
	assert.Len(t, legacy, 1)

	_, err = repo.MarkThankYouSent(ctx, 999, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
