package models

import (
	"fmt"
	"time"
)

// CounterShard holds one partition of a named monotonic counter.
// The counter total is the sum of RunningTotal over all shards of that name.
type CounterShard struct {
	ShardKey     string    `gorm:"primaryKey;type:varchar(191)" json:"shard_key"`
	Name         string    `gorm:"type:varchar(150);index;not null" json:"name"`
	ShardIndex   int       `gorm:"not null" json:"shard_index"`
	RunningTotal int64     `gorm:"not null;default:0" json:"running_total"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the CounterShard model
func (CounterShard) TableName() string {
	return "counter_shards"
}

// ShardKey returns the row key for shard index of the named counter.
func ShardKey(name string, index int) string {
	return fmt.Sprintf("shard-%s-%d", name, index)
}
