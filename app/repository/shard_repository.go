package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/internal/pkg/database"
)

// shardRepository implements the ShardRepository interface
type shardRepository struct {
	runner *database.TxRunner
}

// NewShardRepository creates a new counter shard repository instance
func NewShardRepository(runner *database.TxRunner) ShardRepository {
	return &shardRepository{runner: runner}
}

// Increment upserts the shard row inside a transaction scoped to that single key.
func (r *shardRepository) Increment(ctx context.Context, name string, index int, delta int64) error {
	shard := models.CounterShard{
		ShardKey:     models.ShardKey(name, index),
		Name:         name,
		ShardIndex:   index,
		RunningTotal: delta,
	}
	return r.runner.Run(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "shard_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"running_total": gorm.Expr("running_total + ?", delta),
				"updated_at":    time.Now(),
			}),
		}).Create(&shard).Error
	})
}

// GetMany reads the existing shard rows among keys. Missing shards are simply absent.
func (r *shardRepository) GetMany(ctx context.Context, keys []string) ([]models.CounterShard, error) {
	var shards []models.CounterShard
	if len(keys) == 0 {
		return shards, nil
	}
	err := r.runner.DB(ctx).Where("shard_key IN ?", keys).Find(&shards).Error
	return shards, err
}

func (r *shardRepository) SumByName(ctx context.Context, name string) (int64, error) {
	var total int64
	err := r.runner.DB(ctx).Model(&models.CounterShard{}).
		Where("name = ?", name).
		Select("COALESCE(SUM(running_total), 0)").
		Scan(&total).Error
	return total, err
}
