package models

import "time"

// WeightReading is an append-only scale sample rounded to two decimals.
type WeightReading struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	Weight     float64   `gorm:"column:weight;not null" json:"weight"`
	DeviceID   string    `gorm:"column:device_id;not null" json:"deviceId"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null;index" json:"timestamp"`
}

func (WeightReading) TableName() string { return "weight_readings" }
