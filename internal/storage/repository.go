package storage

import (
	"context"

	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/internal/search"
)

// SubscribeResult is the three-way outcome of a subscribe call. Callers
// phrase distinct user-facing replies for each.
type SubscribeResult string

const (
	SubscribeCreated       SubscribeResult = "created"
	SubscribeReactivated   SubscribeResult = "reactivated"
	SubscribeAlreadyActive SubscribeResult = "already_active"
)

// CheckRetention bounds the check_history table: only this many newest
// rows are kept.
const CheckRetention = 100

// SubscriberStats summarizes the subscriber table.
type SubscriberStats struct {
	Total  int64
	Active int64
}

// Repository defines the interface for data persistence
type Repository interface {
	// Subscriber operations
	Subscribe(ctx context.Context, chatID int64, username, firstName string) (SubscribeResult, error)
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
	IsSubscribed(ctx context.Context, chatID int64) (bool, error)
	ListActiveSubscribers(ctx context.Context) ([]*models.Subscriber, error)
	MarkNotified(ctx context.Context, chatID int64) error
	DeactivateAll(ctx context.Context) (int64, error)
	SubscriberStats(ctx context.Context) (SubscriberStats, error)

	// Check history operations
	SaveCheck(ctx context.Context, results []models.Outage) error
	LatestCheck(ctx context.Context) (*models.CheckRecord, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Outage audit operations
	RecordOutages(ctx context.Context, outages []models.Outage, reportFile string) (int, error)
	SearchOutages(ctx context.Context, filter search.Filter) ([]*models.OutageAudit, error)

	// Maintenance
	Close() error
	Migrate() error
}
