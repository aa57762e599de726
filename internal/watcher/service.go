// Package watcher owns the observe-detect-notify cycle and the command
// surface exposed to the chat transport.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outage-watcher/internal/broadcast"
	"github.com/outage-watcher/internal/confirm"
	"github.com/outage-watcher/internal/dedup"
	"github.com/outage-watcher/internal/detect"
	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/internal/report"
	"github.com/outage-watcher/internal/scheduler"
	"github.com/outage-watcher/internal/search"
	"github.com/outage-watcher/internal/source"
	"github.com/outage-watcher/internal/storage"
	"github.com/outage-watcher/pkg/logger"
)

const (
	// MinIntervalHours and MaxIntervalHours bound the observation period.
	MinIntervalHours = 1
	MaxIntervalHours = 24

	// cycleTimeout bounds one observation cycle end to end.
	cycleTimeout = 10 * time.Minute
)

var (
	// ErrInvalidInterval means the requested interval is outside 1-24 hours.
	ErrInvalidInterval = fmt.Errorf("interval must be between %d and %d hours", MinIntervalHours, MaxIntervalHours)
	// ErrNoSubscribers means a bulk operation was requested with nobody subscribed.
	ErrNoSubscribers = errors.New("no active subscribers")
	// ErrEmptyMessage means a broadcast was requested without text.
	ErrEmptyMessage = errors.New("broadcast message is empty")
)

// Service wires the stores, detector, gate and broadcaster into the
// operations the transport layer calls.
type Service struct {
	repo        storage.Repository
	src         source.Source
	detector    *detect.Detector
	gate        *confirm.Gate
	broadcaster *broadcast.Broadcaster
	reports     *report.Writer
	sched       *scheduler.Scheduler

	place                string
	defaultIntervalHours int
	log                  *logger.Logger
}

// New creates the watcher service. The scheduler it owns stays stopped
// until Start is called.
func New(
	repo storage.Repository,
	src source.Source,
	detector *detect.Detector,
	gate *confirm.Gate,
	broadcaster *broadcast.Broadcaster,
	reports *report.Writer,
	place string,
	defaultIntervalHours int,
	log *logger.Logger,
) *Service {
	s := &Service{
		repo:                 repo,
		src:                  src,
		detector:             detector,
		gate:                 gate,
		broadcaster:          broadcaster,
		reports:              reports,
		place:                place,
		defaultIntervalHours: defaultIntervalHours,
		log:                  log.WithComponent("watcher"),
	}
	s.sched = scheduler.New(s.runScheduled, log)
	return s
}

// Start begins periodic observation using the persisted interval.
func (s *Service) Start(ctx context.Context) {
	hours := s.IntervalHours(ctx)
	s.sched.Start(time.Duration(hours) * time.Hour)
}

// Stop cancels future observation cycles.
func (s *Service) Stop() {
	s.sched.Stop()
}

// runScheduled is the cron job body: one cycle, errors logged, timer
// untouched.
func (s *Service) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	if swept := s.gate.Sweep(); swept > 0 {
		s.log.Debug().Int("swept", swept).Msg("Dropped expired pending operations")
	}

	if _, err := s.RunCycle(ctx); err != nil {
		s.log.Error().Err(err).Msg("Observation cycle failed")
	}
}

// CycleResult summarizes one observation cycle.
type CycleResult struct {
	Observed   int
	Duplicates int
	Changed    bool
	Notified   int
	Failed     int
	ReportFile string
	Duration   time.Duration
}

// RunCycle performs one observation: fetch, deduplicate, detect,
// persist, and on a change notify every active subscriber. A fetch or
// snapshot failure terminates only this cycle.
func (s *Service) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()

	raw, err := s.src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch outages: %w", err)
	}

	unique, removed := dedup.Deduplicate(raw)
	if removed > 0 {
		s.log.Info().Int("removed", removed).Int("unique", len(unique)).Msg("Deduplicated records")
	}

	// Detection must read the previous snapshot before SaveCheck
	// overwrites "latest"
	changed := s.detector.HasChanged(ctx, unique)

	if err := s.repo.SaveCheck(ctx, unique); err != nil {
		return nil, fmt.Errorf("save check: %w", err)
	}

	result := &CycleResult{
		Observed:   len(raw),
		Duplicates: removed,
		Changed:    changed,
	}

	if !changed || len(unique) == 0 {
		result.Duration = time.Since(start)
		s.log.Info().Int("records", len(unique)).Bool("changed", changed).Msg("Cycle completed, nothing to notify")
		return result, nil
	}

	// Report and audit rows are best effort: their failure never blocks
	// notifications
	reportFile, err := s.reports.Save(s.place, unique, start)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to save report")
	}
	result.ReportFile = reportFile

	if _, err := s.repo.RecordOutages(ctx, unique, reportFile); err != nil {
		s.log.Warn().Err(err).Msg("Failed to record outages in audit table")
	}

	subs, err := s.repo.ListActiveSubscribers(ctx)
	if err != nil {
		return result, fmt.Errorf("list subscribers: %w", err)
	}
	if len(subs) == 0 {
		result.Duration = time.Since(start)
		s.log.Info().Msg("New outages found but nobody is subscribed")
		return result, nil
	}

	delivery, err := s.broadcaster.Send(ctx, chatIDs(subs), s.notificationText(unique, start), nil)
	if delivery != nil {
		result.Notified = delivery.Success
		result.Failed = delivery.Failed
		s.markNotified(ctx, subs, delivery)
	}
	if err != nil {
		return result, fmt.Errorf("notify subscribers: %w", err)
	}

	result.Duration = time.Since(start)
	s.log.Info().
		Int("notified", result.Notified).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Cycle completed with notifications")

	return result, nil
}

// Subscribe registers or reactivates a subscriber.
func (s *Service) Subscribe(ctx context.Context, chatID int64, username, firstName string) (storage.SubscribeResult, error) {
	return s.repo.Subscribe(ctx, chatID, username, firstName)
}

// Unsubscribe soft-deletes a subscriber; false means the chat was not
// actively subscribed.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	return s.repo.Unsubscribe(ctx, chatID)
}

// IsSubscribed reports whether the chat has an active subscription.
func (s *Service) IsSubscribed(ctx context.Context, chatID int64) (bool, error) {
	return s.repo.IsSubscribed(ctx, chatID)
}

// ListSubscribers returns active subscribers, oldest first.
func (s *Service) ListSubscribers(ctx context.Context) ([]*models.Subscriber, error) {
	return s.repo.ListActiveSubscribers(ctx)
}

// Stats summarizes the system for operators.
type Stats struct {
	TotalSubscribers  int64
	ActiveSubscribers int64
	LastCheck         *time.Time
	LastResultsCount  int
	IntervalHours     int
}

// Stats returns subscriber counts and last-check information.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	subStats, err := s.repo.SubscriberStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscriber stats: %w", err)
	}

	stats := &Stats{
		TotalSubscribers:  subStats.Total,
		ActiveSubscribers: subStats.Active,
		IntervalHours:     s.IntervalHours(ctx),
	}

	last, err := s.repo.LatestCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest check: %w", err)
	}
	if last != nil {
		stats.LastCheck = &last.CheckTime
		stats.LastResultsCount = last.ResultsCount
	}

	return stats, nil
}

// LatestCheck returns the most recent stored observation, or nil.
func (s *Service) LatestCheck(ctx context.Context) (*models.CheckRecord, error) {
	return s.repo.LatestCheck(ctx)
}

// LatestReportPath returns the newest saved report file, or "".
func (s *Service) LatestReportPath() string {
	return s.reports.Latest()
}

// IntervalHours returns the persisted observation interval, falling
// back to the configured default when no setting exists yet.
func (s *Service) IntervalHours(ctx context.Context) int {
	value, err := s.repo.GetSetting(ctx, models.SettingUpdateIntervalHours)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read interval setting, using default")
		return s.defaultIntervalHours
	}
	if value == "" {
		return s.defaultIntervalHours
	}

	hours, err := strconv.Atoi(value)
	if err != nil || hours < MinIntervalHours || hours > MaxIntervalHours {
		s.log.Warn().Str("value", value).Msg("Invalid persisted interval, using default")
		return s.defaultIntervalHours
	}
	return hours
}

// SetIntervalHours validates, persists and applies a new observation
// interval. A running scheduler is restarted so the new period takes
// effect on the next cycle.
func (s *Service) SetIntervalHours(ctx context.Context, hours int) error {
	if hours < MinIntervalHours || hours > MaxIntervalHours {
		return ErrInvalidInterval
	}

	if err := s.repo.SetSetting(ctx, models.SettingUpdateIntervalHours, strconv.Itoa(hours)); err != nil {
		return fmt.Errorf("persist interval: %w", err)
	}

	if s.sched.Running() {
		s.sched.Restart(time.Duration(hours) * time.Hour)
	}

	s.log.Info().Int("hours", hours).Msg("Update interval changed")
	return nil
}

// RequestBroadcast stages a broadcast for confirmation and returns the
// pending operation with its recipient count snapshot.
func (s *Service) RequestBroadcast(ctx context.Context, operator int64, text string) (*confirm.Operation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	subStats, err := s.repo.SubscriberStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscriber stats: %w", err)
	}
	if subStats.Active == 0 {
		return nil, ErrNoSubscribers
	}

	op := confirm.Operation{
		Kind:       confirm.KindBroadcast,
		Operator:   operator,
		Message:    text,
		Recipients: int(subStats.Active),
	}
	if err := s.gate.Request(op); err != nil {
		return nil, err
	}

	s.log.Info().Int64("operator", operator).Int("recipients", op.Recipients).Msg("Broadcast staged for confirmation")
	return &op, nil
}

// ConfirmBroadcast executes the operator's staged broadcast. The gate
// clears the pending state before any message is sent, so a duplicate
// confirm cannot re-trigger delivery.
func (s *Service) ConfirmBroadcast(ctx context.Context, operator int64, progress broadcast.Progress) (*broadcast.Result, error) {
	op, err := s.gate.Confirm(operator, confirm.KindBroadcast)
	if err != nil {
		return nil, err
	}

	subs, err := s.repo.ListActiveSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}

	result, err := s.broadcaster.Send(ctx, chatIDs(subs), op.Message, progress)
	if result != nil {
		s.markNotified(ctx, subs, result)
	}
	return result, err
}

// RequestUnsubscribeAll stages a mass unsubscribe for confirmation.
func (s *Service) RequestUnsubscribeAll(ctx context.Context, operator int64) (*confirm.Operation, error) {
	subStats, err := s.repo.SubscriberStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscriber stats: %w", err)
	}
	if subStats.Active == 0 {
		return nil, ErrNoSubscribers
	}

	op := confirm.Operation{
		Kind:       confirm.KindUnsubscribeAll,
		Operator:   operator,
		Recipients: int(subStats.Active),
	}
	if err := s.gate.Request(op); err != nil {
		return nil, err
	}

	s.log.Info().Int64("operator", operator).Int("affected", op.Recipients).Msg("Mass unsubscribe staged for confirmation")
	return &op, nil
}

// ConfirmUnsubscribeAll executes the operator's staged mass unsubscribe
// and returns how many subscribers were deactivated.
func (s *Service) ConfirmUnsubscribeAll(ctx context.Context, operator int64) (int64, error) {
	if _, err := s.gate.Confirm(operator, confirm.KindUnsubscribeAll); err != nil {
		return 0, err
	}

	affected, err := s.repo.DeactivateAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("deactivate all: %w", err)
	}

	s.log.Info().Int64("operator", operator).Int64("affected", affected).Msg("Mass unsubscribe executed")
	return affected, nil
}

// CancelPending drops the operator's pending operation, reporting
// whether one was live.
func (s *Service) CancelPending(operator int64) bool {
	return s.gate.Cancel(operator)
}

// Search parses an operator query and returns matching audit rows.
func (s *Service) Search(ctx context.Context, query string) ([]*models.OutageAudit, error) {
	filter, err := search.Parse(query)
	if err != nil {
		return nil, err
	}
	return s.repo.SearchOutages(ctx, filter)
}

// VersionChanged persists the running version and reports whether it
// differs from the last one admins were notified about. The first run
// only records the version.
func (s *Service) VersionChanged(ctx context.Context, version string) (bool, error) {
	previous, err := s.repo.GetSetting(ctx, models.SettingLastNotifiedVersion)
	if err != nil {
		return false, err
	}
	if previous == version {
		return false, nil
	}
	if err := s.repo.SetSetting(ctx, models.SettingLastNotifiedVersion, version); err != nil {
		return false, err
	}
	return previous != "", nil
}

// markNotified stamps delivery times for every subscriber the broadcast
// reached. Failures are logged, never propagated: the notification
// itself already happened.
func (s *Service) markNotified(ctx context.Context, subs []*models.Subscriber, delivery *broadcast.Result) {
	for _, sub := range subs {
		if _, failed := delivery.Errors[sub.ChatID]; failed {
			continue
		}
		if err := s.repo.MarkNotified(ctx, sub.ChatID); err != nil {
			s.log.Warn().Err(err).Int64("chat_id", sub.ChatID).Msg("Failed to mark subscriber notified")
		}
	}
}

func (s *Service) notificationText(outages []models.Outage, checkedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🔔 Уведомление о новых отключениях\n\n")
	fmt.Fprintf(&b, "📍 Место: %s\n", s.place)
	fmt.Fprintf(&b, "📊 Найдено: %d\n", len(outages))
	fmt.Fprintf(&b, "📅 Проверено: %s\n\n", checkedAt.Format("02.01.2006 15:04"))

	for i, o := range outages {
		if i == 3 {
			fmt.Fprintf(&b, "… и еще %d. Полный отчет: /get\n", len(outages)-i)
			break
		}
		fmt.Fprintf(&b, "• %s: %s — %s\n", o.Place, o.DateFrom, o.DateTo)
	}

	return b.String()
}

func chatIDs(subs []*models.Subscriber) []int64 {
	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ChatID)
	}
	return ids
}
