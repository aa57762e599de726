package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/outage-watcher/internal/detect"
	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/internal/search"
	"github.com/outage-watcher/internal/storage"
	"github.com/outage-watcher/pkg/logger"
)

// Repository implements storage.Repository using SQLite
type Repository struct {
	db  *gorm.DB
	log *logger.Logger
}

// New creates a new SQLite repository
func New(dsn string, log *logger.Logger) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Repository{db: db, log: log.WithComponent("storage")}, nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Subscriber{},
		&models.CheckRecord{},
		&models.Setting{},
		&models.OutageAudit{},
	)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Subscriber operations

// Subscribe upserts a subscriber in a single transaction so concurrent
// requests for the same chat cannot create duplicate active rows.
func (r *Repository) Subscribe(ctx context.Context, chatID int64, username, firstName string) (storage.SubscribeResult, error) {
	var result storage.SubscribeResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscriber
		err := tx.Where("chat_id = ?", chatID).First(&sub).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub = models.Subscriber{
				ChatID:       chatID,
				Username:     username,
				FirstName:    firstName,
				SubscribedAt: time.Now().UTC(),
				IsActive:     true,
			}
			if err := tx.Create(&sub).Error; err != nil {
				return err
			}
			result = storage.SubscribeCreated
			return nil

		case err != nil:
			return err

		case sub.IsActive:
			result = storage.SubscribeAlreadyActive
			return nil

		default:
			// Soft-deleted row: reactivate it, refreshing metadata and
			// the subscription timestamp
			sub.IsActive = true
			sub.Username = username
			sub.FirstName = firstName
			sub.SubscribedAt = time.Now().UTC()
			if err := tx.Save(&sub).Error; err != nil {
				return err
			}
			result = storage.SubscribeReactivated
			return nil
		}
	})
	if err != nil {
		return "", fmt.Errorf("subscribe %d: %w", chatID, err)
	}

	r.log.Info().Int64("chat_id", chatID).Str("outcome", string(result)).Msg("Subscribe processed")
	return result, nil
}

// Unsubscribe soft-deletes a subscriber. Returns false if the chat was
// not actively subscribed.
func (r *Repository) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscriber{}).
		Where("chat_id = ? AND is_active = ?", chatID, true).
		Update("is_active", false)
	if res.Error != nil {
		return false, fmt.Errorf("unsubscribe %d: %w", chatID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IsSubscribed reports whether the chat has an active subscription
func (r *Repository) IsSubscribed(ctx context.Context, chatID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Subscriber{}).
		Where("chat_id = ? AND is_active = ?", chatID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListActiveSubscribers returns active subscribers ordered by
// subscription time, oldest first.
func (r *Repository) ListActiveSubscribers(ctx context.Context) ([]*models.Subscriber, error) {
	var subs []*models.Subscriber
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("subscribed_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	return subs, nil
}

// MarkNotified records the delivery time for a subscriber
func (r *Repository) MarkNotified(ctx context.Context, chatID int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Subscriber{}).
		Where("chat_id = ? AND is_active = ?", chatID, true).
		Update("last_notified", now).Error
}

// DeactivateAll soft-deletes every active subscriber and returns how
// many rows were affected.
func (r *Repository) DeactivateAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscriber{}).
		Where("is_active = ?", true).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("deactivate all: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SubscriberStats returns total and active subscriber counts
func (r *Repository) SubscriberStats(ctx context.Context) (storage.SubscriberStats, error) {
	var stats storage.SubscriberStats

	if err := r.db.WithContext(ctx).Model(&models.Subscriber{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := r.db.WithContext(ctx).Model(&models.Subscriber{}).
		Where("is_active = ?", true).Count(&stats.Active).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// Check history operations

// SaveCheck persists a new check record and prunes history beyond the
// retention bound. Pruning failures are logged, never propagated: the
// notification path must not block on them.
func (r *Repository) SaveCheck(ctx context.Context, results []models.Outage) error {
	record := models.CheckRecord{
		CheckTime:    time.Now().UTC(),
		ResultsCount: len(results),
		ResultsHash:  detect.Hash(results),
		ResultsData:  models.OutageList(results),
	}

	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("save check: %w", err)
	}

	pruneErr := r.db.WithContext(ctx).Exec(`
		DELETE FROM check_history
		WHERE id NOT IN (
			SELECT id FROM check_history
			ORDER BY check_time DESC
			LIMIT ?
		)`, storage.CheckRetention).Error
	if pruneErr != nil {
		r.log.Warn().Err(pruneErr).Msg("Failed to prune check history")
	}

	r.log.Info().Int("results", len(results)).Msg("Saved check record")
	return nil
}

// LatestCheck returns the most recent check record, or nil if no check
// has been stored yet.
func (r *Repository) LatestCheck(ctx context.Context) (*models.CheckRecord, error) {
	var record models.CheckRecord
	err := r.db.WithContext(ctx).Order("check_time DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest check: %w", err)
	}
	return &record, nil
}

// Settings operations

// GetSetting returns the stored value for key, or "" when unset
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var setting models.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return setting.Value, nil
}

// SetSetting upserts a settings row
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	setting := models.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Save(&setting).Error; err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Outage audit operations

// RecordOutages appends observed records to the audit table, skipping
// rows whose content hash is already present. Returns how many new rows
// were stored.
func (r *Repository) RecordOutages(ctx context.Context, outages []models.Outage, reportFile string) (int, error) {
	stored := 0
	for _, o := range outages {
		row := models.OutageAudit{
			District:    o.District,
			Place:       o.Place,
			Addresses:   o.Addresses,
			DateFrom:    o.DateFrom,
			DateTo:      o.DateTo,
			Energy:      o.Energy,
			ReportFile:  reportFile,
			ContentHash: o.ContentHash(),
		}

		res := r.db.WithContext(ctx).
			Where("content_hash = ?", row.ContentHash).
			FirstOrCreate(&row)
		if res.Error != nil {
			return stored, fmt.Errorf("record outage: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			stored++
		}
	}

	if stored > 0 {
		r.log.Info().Int("stored", stored).Int("observed", len(outages)).Msg("Recorded outages in audit table")
	}
	return stored, nil
}

// SearchOutages returns audit rows matching the filter, newest first
func (r *Repository) SearchOutages(ctx context.Context, filter search.Filter) ([]*models.OutageAudit, error) {
	query := r.db.WithContext(ctx).Model(&models.OutageAudit{})

	if filter.District != "" {
		query = query.Where("district LIKE ?", "%"+filter.District+"%")
	}
	if filter.Place != "" {
		query = query.Where("place LIKE ?", "%"+filter.Place+"%")
	}
	if filter.DateFrom != "" {
		query = query.Where("date_from LIKE ?", "%"+filter.DateFrom+"%")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = search.DefaultLimit
	}

	var rows []*models.OutageAudit
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("search outages: %w", err)
	}
	return rows, nil
}
