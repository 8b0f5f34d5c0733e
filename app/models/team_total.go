package models

import "time"

// TeamTotal is the durable running total and pledge count of a team.
type TeamTotal struct {
	Team        string    `gorm:"primaryKey;type:varchar(100)" json:"team"`
	TotalCents  int64     `gorm:"not null;default:0" json:"total_cents"`
	PledgeCount int64     `gorm:"not null;default:0" json:"pledge_count"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the TeamTotal model
func (TeamTotal) TableName() string {
	return "team_totals"
}
