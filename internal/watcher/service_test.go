package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outage-watcher/internal/broadcast"
	"github.com/outage-watcher/internal/confirm"
	"github.com/outage-watcher/internal/detect"
	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/internal/report"
	"github.com/outage-watcher/internal/search"
	"github.com/outage-watcher/internal/storage"
	"github.com/outage-watcher/pkg/logger"
	"github.com/outage-watcher/pkg/ratelimit"
)

type fakeRepo struct {
	subs      []*models.Subscriber
	lastCheck *models.CheckRecord
	settings  map[string]string
	saved     [][]models.Outage
	recorded  []models.Outage
	notified  []int64
	subsErr   error
	saveErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{settings: make(map[string]string)}
}

func (f *fakeRepo) Subscribe(ctx context.Context, chatID int64, username, firstName string) (storage.SubscribeResult, error) {
	f.subs = append(f.subs, &models.Subscriber{ChatID: chatID, Username: username, FirstName: firstName, IsActive: true})
	return storage.SubscribeCreated, nil
}

func (f *fakeRepo) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	for _, sub := range f.subs {
		if sub.ChatID == chatID && sub.IsActive {
			sub.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) IsSubscribed(ctx context.Context, chatID int64) (bool, error) {
	for _, sub := range f.subs {
		if sub.ChatID == chatID && sub.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) ListActiveSubscribers(ctx context.Context) ([]*models.Subscriber, error) {
	if f.subsErr != nil {
		return nil, f.subsErr
	}
	var active []*models.Subscriber
	for _, sub := range f.subs {
		if sub.IsActive {
			active = append(active, sub)
		}
	}
	return active, nil
}

func (f *fakeRepo) MarkNotified(ctx context.Context, chatID int64) error {
	f.notified = append(f.notified, chatID)
	return nil
}

func (f *fakeRepo) DeactivateAll(ctx context.Context) (int64, error) {
	var n int64
	for _, sub := range f.subs {
		if sub.IsActive {
			sub.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) SubscriberStats(ctx context.Context) (storage.SubscriberStats, error) {
	stats := storage.SubscriberStats{Total: int64(len(f.subs))}
	for _, sub := range f.subs {
		if sub.IsActive {
			stats.Active++
		}
	}
	return stats, nil
}

func (f *fakeRepo) SaveCheck(ctx context.Context, results []models.Outage) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, results)
	f.lastCheck = &models.CheckRecord{
		CheckTime:    time.Now().UTC(),
		ResultsCount: len(results),
		ResultsHash:  detect.Hash(results),
		ResultsData:  models.OutageList(results),
	}
	return nil
}

func (f *fakeRepo) LatestCheck(ctx context.Context) (*models.CheckRecord, error) {
	return f.lastCheck, nil
}

func (f *fakeRepo) GetSetting(ctx context.Context, key string) (string, error) {
	return f.settings[key], nil
}

func (f *fakeRepo) SetSetting(ctx context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}

func (f *fakeRepo) RecordOutages(ctx context.Context, outages []models.Outage, reportFile string) (int, error) {
	f.recorded = append(f.recorded, outages...)
	return len(outages), nil
}

func (f *fakeRepo) SearchOutages(ctx context.Context, filter search.Filter) ([]*models.OutageAudit, error) {
	var rows []*models.OutageAudit
	for _, o := range f.recorded {
		if filter.Place != "" && o.Place != filter.Place {
			continue
		}
		rows = append(rows, &models.OutageAudit{Place: o.Place, District: o.District})
	}
	return rows, nil
}

func (f *fakeRepo) Close() error   { return nil }
func (f *fakeRepo) Migrate() error { return nil }

type fakeSource struct {
	outages []models.Outage
	err     error
}

func (f *fakeSource) Fetch(ctx context.Context) ([]models.Outage, error) {
	return f.outages, f.err
}

type fakeSender struct {
	sent    map[int64][]string
	failFor map[int64]error
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string) error {
	if err, ok := f.failFor[chatID]; ok {
		return err
	}
	if f.sent == nil {
		f.sent = make(map[int64][]string)
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func testLimiter() *ratelimit.MultiLimiter {
	l := ratelimit.NewMultiLimiter()
	l.AddLimiter(ratelimit.LimiterTelegram, 1_000_000, 1_000_000)
	return l
}

func newTestService(t *testing.T, repo *fakeRepo, src *fakeSource, sender *fakeSender) *Service {
	t.Helper()

	log := logger.Default()
	return New(
		repo,
		src,
		detect.New(repo, log),
		confirm.NewGate(),
		broadcast.New(sender, testLimiter(), log),
		report.NewWriter(t.TempDir(), log),
		"Ленинаван",
		6,
		log,
	)
}

func activeSub(chatID int64) *models.Subscriber {
	return &models.Subscriber{ChatID: chatID, IsActive: true}
}

func TestRunCycleNotifiesOnChange(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []*models.Subscriber{activeSub(10), activeSub(20)}
	src := &fakeSource{outages: []models.Outage{
		{Place: "Ленинаван", DateFrom: "10.01.2025 08:00", DateTo: "10.01.2025 17:00", Addresses: "ул. Мира"},
	}}
	sender := &fakeSender{}
	svc := newTestService(t, repo, src, sender)

	result, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, 1, result.Observed)
	assert.Equal(t, 2, result.Notified)
	assert.Zero(t, result.Failed)
	assert.NotEmpty(t, result.ReportFile)

	require.Len(t, sender.sent[10], 1)
	assert.Contains(t, sender.sent[10][0], "Ленинаван")
	assert.ElementsMatch(t, []int64{10, 20}, repo.notified)
	assert.Len(t, repo.saved, 1, "snapshot persisted")
	assert.Len(t, repo.recorded, 1, "audit row written")
}

func TestRunCycleNoChangeNoSend(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []*models.Subscriber{activeSub(10)}
	src := &fakeSource{outages: []models.Outage{{Place: "Ленинаван", DateFrom: "10.01.2025"}}}
	sender := &fakeSender{}
	svc := newTestService(t, repo, src, sender)

	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	// same observation again
	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Changed)
	assert.Zero(t, result.Notified)
	assert.Len(t, sender.sent[10], 1, "only the first cycle notified")
	assert.Len(t, repo.saved, 2, "every cycle persists its snapshot")
}

func TestRunCycleEmptyObservationNotifiesNobody(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []*models.Subscriber{activeSub(10)}
	sender := &fakeSender{}
	svc := newTestService(t, repo, &fakeSource{}, sender)

	result, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Empty(t, sender.sent)
}

func TestRunCycleDeduplicatesBeforeDetection(t *testing.T) {
	repo := newFakeRepo()
	src := &fakeSource{outages: []models.Outage{
		{Place: "Ленинаван", DateFrom: "10.01.2025 08:00"},
		{Place: "ленинаван ", DateFrom: "10.01.2025"},
	}}
	svc := newTestService(t, repo, src, &fakeSender{})

	result, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Observed)
	assert.Equal(t, 1, result.Duplicates)
	require.Len(t, repo.saved, 1)
	assert.Len(t, repo.saved[0], 1)
}

func TestRunCycleFetchFailure(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeSource{err: errors.New("site down")}, &fakeSender{})

	_, err := svc.RunCycle(context.Background())

	require.Error(t, err)
	assert.Empty(t, repo.saved, "a failed fetch leaves no snapshot")
}

func TestRunCycleSaveFailureAborts(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []*models.Subscriber{activeSub(10)}
	repo.saveErr = errors.New("disk full")
	sender := &fakeSender{}
	src := &fakeSource{outages: []models.Outage{{Place: "Ленинаван", DateFrom: "10.01.2025"}}}
	svc := newTestService(t, repo, src, sender)

	_, err := svc.RunCycle(context.Background())

	require.Error(t, err)
	assert.Empty(t, sender.sent, "no notification without a persisted snapshot")
}

func TestRunCyclePartialDeliveryFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []*models.Subscriber{activeSub(10), activeSub(20)}
	sender := &fakeSender{failFor: map[int64]error{20: errors.New("blocked")}}
	src := &fakeSource{outages: []models.Outage{{Place: "Ленинаван", DateFrom: "10.01.2025"}}}
	svc := newTestService(t, repo, src, sender)

	result, err := svc.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Notified)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []int64{10}, repo.notified, "only reached subscribers are stamped")
}

func TestIntervalHours(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeSource{}, &fakeSender{})
	ctx := context.Background()

	assert.Equal(t, 6, svc.IntervalHours(ctx), "default when nothing persisted")

	require.NoError(t, svc.SetIntervalHours(ctx, 2))
	assert.Equal(t, 2, svc.IntervalHours(ctx))
	assert.Equal(t, "2", repo.settings[models.SettingUpdateIntervalHours])

	repo.settings[models.SettingUpdateIntervalHours] = "garbage"
	assert.Equal(t, 6, svc.IntervalHours(ctx), "invalid persisted value falls back to default")
}

func TestSetIntervalHoursValidation(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeSource{}, &fakeSender{})
	ctx := context.Background()

	assert.ErrorIs(t, svc.SetIntervalHours(ctx, 0), ErrInvalidInterval)
	assert.ErrorIs(t, svc.SetIntervalHours(ctx, 25), ErrInvalidInterval)
	assert.NoError(t, svc.SetIntervalHours(ctx, 1))
	assert.NoError(t, svc.SetIntervalHours(ctx, 24))
}

func TestBroadcastFlow(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []*models.Subscriber{activeSub(10), activeSub(20)}
	sender := &fakeSender{}
	svc := newTestService(t, repo, &fakeSource{}, sender)
	ctx := context.Background()

	op, err := svc.RequestBroadcast(ctx, 999, "плановые работы")
	require.NoError(t, err)
	assert.Equal(t, 2, op.Recipients)

	result, err := svc.ConfirmBroadcast(ctx, 999, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, []string{"плановые работы"}, sender.sent[10])

	// the staged operation was consumed
	_, err = svc.ConfirmBroadcast(ctx, 999, nil)
	assert.ErrorIs(t, err, confirm.ErrNotPending)
}

func TestRequestBroadcastValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeSource{}, &fakeSender{})
	ctx := context.Background()

	_, err := svc.RequestBroadcast(ctx, 999, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.RequestBroadcast(ctx, 999, "текст")
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestUnsubscribeAllFlow(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []*models.Subscriber{activeSub(10), activeSub(20), activeSub(30)}
	svc := newTestService(t, repo, &fakeSource{}, &fakeSender{})
	ctx := context.Background()

	op, err := svc.RequestUnsubscribeAll(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, 3, op.Recipients)

	affected, err := svc.ConfirmUnsubscribeAll(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveSubscribers)

	// nothing left to stage
	_, err = svc.RequestUnsubscribeAll(ctx, 999)
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestCancelPending(t *testing.T) {
	repo := newFakeRepo()
	repo.subs = []*models.Subscriber{activeSub(10)}
	svc := newTestService(t, repo, &fakeSource{}, &fakeSender{})
	ctx := context.Background()

	assert.False(t, svc.CancelPending(999))

	_, err := svc.RequestBroadcast(ctx, 999, "текст")
	require.NoError(t, err)

	assert.True(t, svc.CancelPending(999))

	_, err = svc.ConfirmBroadcast(ctx, 999, nil)
	assert.ErrorIs(t, err, confirm.ErrNotPending)
}

func TestVersionChanged(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeSource{}, &fakeSender{})
	ctx := context.Background()

	changed, err := svc.VersionChanged(ctx, "1.0.0")
	require.NoError(t, err)
	assert.False(t, changed, "first run only records the version")

	changed, err = svc.VersionChanged(ctx, "1.0.0")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = svc.VersionChanged(ctx, "1.1.0")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSearchRejectsUnknownKeys(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeSource{}, &fakeSender{})

	_, err := svc.Search(context.Background(), "bogus:value")

	var unknown *search.ErrUnknownKey
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Key)
}

func TestNotificationTextCapsAtThreeRows(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeSource{}, &fakeSender{})

	outages := make([]models.Outage, 5)
	for i := range outages {
		outages[i] = models.Outage{Place: "Ленинаван", DateFrom: "10.01.2025", DateTo: "10.01.2025"}
	}

	text := svc.notificationText(outages, time.Now())
	assert.Contains(t, text, "Найдено: 5")
	assert.Contains(t, text, "еще 2")
	assert.Contains(t, text, "/get")
}
