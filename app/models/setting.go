package models

import (
	"time"
)

const (
	// SettingStretchCheckTotal holds the stretch goal check total in cents, entered by an admin.
	SettingStretchCheckTotal = "stretch_check_total_cents"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:191;not null;uniqueIndex" json:"key" validate:"required,min=1,max=191"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, integer
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Setting model
func (Setting) TableName() string {
	return "settings"
}

// SettingType returns the stored type of a setting based on its key
func SettingType(key string) string {
	switch key {
	case SettingStretchCheckTotal:
		return "integer"
	default:
		return "string"
	}
}
