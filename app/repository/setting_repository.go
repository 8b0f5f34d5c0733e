package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/mayday-pac/pledgeservice/app/models"
)

// settingRepository implements the SettingRepository interface
type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new setting repository instance
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// GetValue retrieves a specific setting value by key
func (r *settingRepository) GetValue(ctx context.Context, key string) (string, error) {
	var setting models.Setting
	// Correct column is `setting_key` (see gorm tag in models.Setting)
	err := r.db.WithContext(ctx).Where("setting_key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil // Return empty string for non-existent settings
		}
		return "", err
	}
	return setting.Value, nil
}

// SetValue sets a specific setting value by key
func (r *settingRepository) SetValue(ctx context.Context, key, value string) error {
	db := r.db.WithContext(ctx)
	var setting models.Setting
	err := db.Where("setting_key = ?", key).First(&setting).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		setting = models.Setting{
			Key:   key,
			Value: value,
			Type:  models.SettingType(key),
		}
		return db.Create(&setting).Error
	} else if err != nil {
		return err
	}

	setting.Value = value
	return db.Save(&setting).Error
}

// GetInt64 reads an integer setting; a missing setting is 0
func (r *settingRepository) GetInt64(ctx context.Context, key string) (int64, error) {
	raw, err := r.GetValue(ctx, key)
	if err != nil {
		return 0, err
	}
	return ParseInt64Setting(key, raw)
}

// ParseInt64Setting converts a stored setting value, treating empty as 0
func ParseInt64Setting(key, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer: %w", key, err)
	}
	return v, nil
}
