package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mayday-pac/pledgeservice/app/models"
)

// pledgeRepository implements the PledgeRepository interface
type pledgeRepository struct {
	db *gorm.DB
}

// NewPledgeRepository creates a new pledge repository instance
func NewPledgeRepository(db *gorm.DB) PledgeRepository {
	return &pledgeRepository{db: db}
}

// Create inserts a new pledge record
func (r *pledgeRepository) Create(ctx context.Context, pledge *models.Pledge) error {
	return r.db.WithContext(ctx).Create(pledge).Error
}

// GetByID retrieves a pledge by its ID
func (r *pledgeRepository) GetByID(ctx context.Context, id uint) (*models.Pledge, error) {
	var pledge models.Pledge
	if err := r.db.WithContext(ctx).First(&pledge, id).Error; err != nil {
		return nil, err
	}
	return &pledge, nil
}

// ListByTeam retrieves all pledges of a team
func (r *pledgeRepository) ListByTeam(ctx context.Context, team string) ([]models.Pledge, error) {
	var pledges []models.Pledge
	err := r.db.WithContext(ctx).Where("team = ?", team).Order("id ASC").Find(&pledges).Error
	return pledges, err
}

func (r *pledgeRepository) ListLegacyByTeam(ctx context.Context, team string, beforeVersion int) ([]models.Pledge, error) {
	var pledges []models.Pledge
	err := r.db.WithContext(ctx).
		Where("team = ? AND model_version < ?", team, beforeVersion).
		Order("id ASC").Find(&pledges).Error
	return pledges, err
}

// SumByTeam computes total and count over every pledge of a team
func (r *pledgeRepository) SumByTeam(ctx context.Context, team string) (TeamSum, error) {
	var sum TeamSum
	err := r.db.WithContext(ctx).Model(&models.Pledge{}).
		Select("COALESCE(SUM(amount_cents), 0) AS total_cents, COUNT(*) AS pledge_count").
		Where("team = ?", team).
		Scan(&sum).Error
	return sum, err
}

func (r *pledgeRepository) ListTeamsAfter(ctx context.Context, cursor string, limit int) ([]string, error) {
	var teams []string
	err := r.db.WithContext(ctx).Model(&models.Pledge{}).
		Distinct("team").
		Where("team <> '' AND team > ?", cursor).
		Order("team ASC").
		Limit(limit).
		Pluck("team", &teams).Error
	return teams, err
}

func (r *pledgeRepository) MarkThankYouSent(ctx context.Context, id uint, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Pledge{}).
		Where("id = ? AND thank_you_sent_at IS NULL", id).
		Update("thank_you_sent_at", at)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}
	// Distinguish "already sent" from "no such pledge"
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
