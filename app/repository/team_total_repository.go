package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mayday-pac/pledgeservice/app/models"
	"github.com/mayday-pac/pledgeservice/internal/pkg/database"
)

// teamTotalRepository implements the TeamTotalRepository interface
type teamTotalRepository struct {
	runner *database.TxRunner
}

// NewTeamTotalRepository creates a new team total repository instance
func NewTeamTotalRepository(runner *database.TxRunner) TeamTotalRepository {
	return &teamTotalRepository{runner: runner}
}

// Get retrieves the aggregate row of a team
func (r *teamTotalRepository) Get(ctx context.Context, team string) (*models.TeamTotal, error) {
	var tt models.TeamTotal
	if err := r.runner.DB(ctx).Where("team = ?", team).First(&tt).Error; err != nil {
		return nil, err
	}
	return &tt, nil
}

func (r *teamTotalRepository) CreateIfAbsent(ctx context.Context, tt *models.TeamTotal) (bool, *models.TeamTotal, error) {
	var (
		created bool
		stored  models.TeamTotal
	)
	err := r.runner.Run(ctx, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "team"}},
			DoNothing: true,
		}).Create(tt)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		return tx.Where("team = ?", tt.Team).First(&stored).Error
	})
	if err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *teamTotalRepository) Add(ctx context.Context, team string, amountCents int64) error {
	return r.runner.Run(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.TeamTotal{}).
			Where("team = ?", team).
			UpdateColumns(map[string]interface{}{
				"total_cents":  gorm.Expr("total_cents + ?", amountCents),
				"pledge_count": gorm.Expr("pledge_count + ?", 1),
				"updated_at":   time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Overwrite replaces total and count of a team, inserting the row if needed
func (r *teamTotalRepository) Overwrite(ctx context.Context, tt *models.TeamTotal) error {
	return r.runner.Run(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "team"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_cents", "pledge_count", "updated_at"}),
		}).Create(tt).Error
	})
}
