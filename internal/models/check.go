package models

import (
	"time"
)

// CheckRecord is one timestamped observation of the outage list together
// with the digest used for change detection. History is append-only and
// retention-bounded; only the newest row is consulted when deciding
// whether the latest observation is new.
type CheckRecord struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CheckTime    time.Time  `gorm:"index;not null" json:"check_time"`
	ResultsCount int        `gorm:"not null" json:"results_count"`
	ResultsHash  string     `gorm:"not null" json:"results_hash"`
	ResultsData  OutageList `gorm:"type:json" json:"results_data"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName keeps the historical table name
func (CheckRecord) TableName() string { return "check_history" }

// Setting is a durable key/value pair for runtime-adjustable knobs such
// as the update interval.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Setting keys.
const (
	SettingUpdateIntervalHours = "update_interval_hours"
	SettingLastNotifiedVersion = "last_notified_version"
)
