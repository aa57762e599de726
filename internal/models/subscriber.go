package models

import (
	"time"
)

// Subscriber represents a chat subscribed to outage notifications.
// Rows are never hard-deleted: unsubscribing flips IsActive off so
// subscription history survives for analytics, and a later subscribe
// reactivates the same row.
type Subscriber struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	ChatID       int64      `gorm:"uniqueIndex;not null" json:"chat_id"`
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name"`
	SubscribedAt time.Time  `gorm:"index;not null" json:"subscribed_at"`
	LastNotified *time.Time `json:"last_notified"`
	IsActive     bool       `gorm:"index;default:true" json:"is_active"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// DisplayName returns the best available human-readable name for logs
// and admin listings.
func (s *Subscriber) DisplayName() string {
	if s.Username != "" {
		return "@" + s.Username
	}
	if s.FirstName != "" {
		return s.FirstName
	}
	return "unknown"
}
