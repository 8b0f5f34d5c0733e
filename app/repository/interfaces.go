package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/internal/pkg/database"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// PledgeRepository defines the durable pledge record operations
type PledgeRepository interface {
	Create(ctx context.Context, pledge *models.Pledge) error
	GetByID(ctx context.Context, id uint) (*models.Pledge, error)
	ListByTeam(ctx context.Context, team string) ([]models.Pledge, error)
	// ListLegacyByTeam returns the team's pledges created below the given model version.
	ListLegacyByTeam(ctx context.Context, team string, beforeVersion int) ([]models.Pledge, error)
	SumByTeam(ctx context.Context, team string) (TeamSum, error)
	// ListTeamsAfter returns distinct non-empty team ids greater than cursor, ascending.
	ListTeamsAfter(ctx context.Context, cursor string, limit int) ([]string, error)
	// MarkThankYouSent sets the thank-you timestamp once; false means it was already set.
	MarkThankYouSent(ctx context.Context, id uint, at time.Time) (bool, error)
}

// ShardRepository stores the partitions of named counters
type ShardRepository interface {
	// Increment atomically adds delta to one shard, creating it at zero when absent.
	Increment(ctx context.Context, name string, index int, delta int64) error
	GetMany(ctx context.Context, keys []string) ([]models.CounterShard, error)
	// SumByName adds up every shard row of the counter, whatever its index.
	SumByName(ctx context.Context, name string) (int64, error)
}

// TeamTotalRepository stores per-team aggregate rows
type TeamTotalRepository interface {
	Get(ctx context.Context, team string) (*models.TeamTotal, error)
	// CreateIfAbsent inserts tt unless a row exists and returns the stored row either way.
	CreateIfAbsent(ctx context.Context, tt *models.TeamTotal) (bool, *models.TeamTotal, error)
	// Add increments total and count of an existing row; ErrNotFound if it is missing.
	Add(ctx context.Context, team string, amountCents int64) error
	Overwrite(ctx context.Context, tt *models.TeamTotal) error
}

// SettingRepository defines the interface for application settings
type SettingRepository interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	GetInt64(ctx context.Context, key string) (int64, error)
}

// TeamSum is the recomputed aggregate of a team's pledges
type TeamSum struct {
	TotalCents  int64
	PledgeCount int64
}

// Repositories struct holds all repository instances
type Repositories struct {
	Pledge    PledgeRepository
	Shard     ShardRepository
	TeamTotal TeamTotalRepository
	Setting   SettingRepository
}

// NewRepositories creates the gorm-backed repositories sharing one transaction runner
func NewRepositories(db *gorm.DB, txMaxRetries int) *Repositories {
	runner := database.NewTxRunner(db, txMaxRetries)
	return &Repositories{
		Pledge:    NewPledgeRepository(db),
		Shard:     NewShardRepository(runner),
		TeamTotal: NewTeamTotalRepository(runner),
		Setting:   NewSettingRepository(db),
	}
}
