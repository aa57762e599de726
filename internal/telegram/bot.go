// Package telegram is the chat transport: it receives commands over
// long polling and renders the watcher's outcomes as messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/outage-watcher/internal/broadcast"
	"github.com/outage-watcher/internal/config"
	"github.com/outage-watcher/internal/confirm"
	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/internal/search"
	"github.com/outage-watcher/internal/storage"
	"github.com/outage-watcher/internal/watcher"
	"github.com/outage-watcher/pkg/logger"
)

// subscribersPageSize bounds the admin subscriber listing.
const subscribersPageSize = 20

// Bot handles inbound commands and replies.
type Bot struct {
	api *tgbotapi.BotAPI
	svc *watcher.Service
	cfg *config.Config
	log *logger.Logger
}

// New creates the bot over an authorized API client
func New(api *tgbotapi.BotAPI, svc *watcher.Service, cfg *config.Config, log *logger.Logger) *Bot {
	return &Bot{
		api: api,
		svc: svc,
		cfg: cfg,
		log: log.WithComponent("telegram"),
	}
}

// Run consumes updates until the context is canceled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.log.Info().Str("username", b.api.Self.UserName).Msg("Bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}

	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.reply(chatID, helpText)
	case "subscribe":
		b.handleSubscribe(ctx, msg)
	case "unsubscribe":
		b.handleUnsubscribe(ctx, chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "get":
		b.handleGet(ctx, chatID)
	case "admin_stats":
		b.admin(chatID, func() { b.handleAdminStats(ctx, chatID) })
	case "admin_subscribers":
		b.admin(chatID, func() { b.handleAdminSubscribers(ctx, chatID) })
	case "admin_broadcast":
		b.admin(chatID, func() { b.handleAdminBroadcast(ctx, chatID, args) })
	case "confirm_broadcast":
		b.admin(chatID, func() { b.handleConfirmBroadcast(ctx, chatID) })
	case "admin_unsubscribe_all":
		b.admin(chatID, func() { b.handleAdminUnsubscribeAll(ctx, chatID) })
	case "confirm_unsubscribe_all":
		b.admin(chatID, func() { b.handleConfirmUnsubscribeAll(ctx, chatID) })
	case "admin_cancel":
		b.admin(chatID, func() { b.handleAdminCancel(chatID) })
	case "admin_set_interval":
		b.admin(chatID, func() { b.handleSetInterval(ctx, chatID, args) })
	case "admin_search":
		b.admin(chatID, func() { b.handleAdminSearch(ctx, chatID, args) })
	default:
		b.reply(chatID, "Неизвестная команда. Список команд: /help")
	}
}

// admin runs fn only for allowlisted operators.
func (b *Bot) admin(chatID int64, fn func()) {
	if !b.cfg.IsAdmin(chatID) {
		b.log.Warn().Int64("chat_id", chatID).Msg("Admin command from non-admin chat")
		b.reply(chatID, "⛔ Команда доступна только администраторам.")
		return
	}
	fn()
}

func (b *Bot) handleSubscribe(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	var username, firstName string
	if msg.From != nil {
		username = msg.From.UserName
		firstName = msg.From.FirstName
	}

	result, err := b.svc.Subscribe(ctx, chatID, username, firstName)
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("Subscribe failed")
		b.reply(chatID, "❌ Не удалось оформить подписку, попробуйте позже.")
		return
	}

	switch result {
	case storage.SubscribeCreated:
		b.reply(chatID, "✅ Подписка оформлена! Вы будете получать уведомления о новых отключениях.")
	case storage.SubscribeReactivated:
		b.reply(chatID, "✅ Подписка возобновлена! Уведомления снова включены.")
	case storage.SubscribeAlreadyActive:
		b.reply(chatID, "ℹ️ Вы уже подписаны на уведомления.")
	}
}

func (b *Bot) handleUnsubscribe(ctx context.Context, chatID int64) {
	removed, err := b.svc.Unsubscribe(ctx, chatID)
	if err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("Unsubscribe failed")
		b.reply(chatID, "❌ Не удалось отписаться, попробуйте позже.")
		return
	}

	if removed {
		b.reply(chatID, "✅ Вы отписаны от уведомлений.")
	} else {
		b.reply(chatID, "ℹ️ Вы не были подписаны.")
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	subscribed, err := b.svc.IsSubscribed(ctx, chatID)
	if err != nil {
		b.reply(chatID, "❌ Не удалось получить статус.")
		return
	}

	stats, err := b.svc.Stats(ctx)
	if err != nil {
		b.reply(chatID, "❌ Не удалось получить статус.")
		return
	}

	var sb strings.Builder
	if subscribed {
		sb.WriteString("🔔 Подписка активна.\n")
	} else {
		sb.WriteString("🔕 Подписка не оформлена. /subscribe чтобы подписаться.\n")
	}
	if stats.LastCheck != nil {
		fmt.Fprintf(&sb, "Последняя проверка: %s (найдено: %d)\n", stats.LastCheck.Format("02.01.2006 15:04"), stats.LastResultsCount)
	} else {
		sb.WriteString("Проверок еще не было.\n")
	}
	fmt.Fprintf(&sb, "Интервал проверки: %d ч.", stats.IntervalHours)

	b.reply(chatID, sb.String())
}

func (b *Bot) handleGet(ctx context.Context, chatID int64) {
	if path := b.svc.LatestReportPath(); path != "" {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
		doc.Caption = "Последний отчет об отключениях"
		if _, err := b.api.Send(doc); err == nil {
			return
		}
		b.log.Warn().Str("path", path).Msg("Failed to send report file, falling back to summary")
	}

	last, err := b.svc.LatestCheck(ctx)
	if err != nil || last == nil {
		b.reply(chatID, "ℹ️ Отчетов пока нет. Они появятся после первой проверки.")
		return
	}

	b.reply(chatID, summarizeOutages(last.ResultsData))
}

func (b *Bot) handleAdminStats(ctx context.Context, chatID int64) {
	stats, err := b.svc.Stats(ctx)
	if err != nil {
		b.reply(chatID, "❌ Не удалось получить статистику.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 Статистика\n\n")
	fmt.Fprintf(&sb, "Подписчиков всего: %d\n", stats.TotalSubscribers)
	fmt.Fprintf(&sb, "Активных: %d\n", stats.ActiveSubscribers)
	if stats.LastCheck != nil {
		fmt.Fprintf(&sb, "Последняя проверка: %s\n", stats.LastCheck.Format("02.01.2006 15:04"))
		fmt.Fprintf(&sb, "Записей в последней проверке: %d\n", stats.LastResultsCount)
	}
	fmt.Fprintf(&sb, "Интервал проверки: %d ч.", stats.IntervalHours)

	b.reply(chatID, sb.String())
}

func (b *Bot) handleAdminSubscribers(ctx context.Context, chatID int64) {
	subs, err := b.svc.ListSubscribers(ctx)
	if err != nil {
		b.reply(chatID, "❌ Не удалось получить список подписчиков.")
		return
	}
	if len(subs) == 0 {
		b.reply(chatID, "ℹ️ Активных подписчиков нет.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 Активные подписчики (%d):\n\n", len(subs))
	for i, sub := range subs {
		if i == subscribersPageSize {
			fmt.Fprintf(&sb, "… и еще %d", len(subs)-i)
			break
		}
		fmt.Fprintf(&sb, "%d. %s (id %d), подписан %s\n", i+1, sub.DisplayName(), sub.ChatID, sub.SubscribedAt.Format("02.01.2006"))
	}

	b.reply(chatID, sb.String())
}

func (b *Bot) handleAdminBroadcast(ctx context.Context, chatID int64, text string) {
	op, err := b.svc.RequestBroadcast(ctx, chatID, text)
	if err != nil {
		switch {
		case errors.Is(err, watcher.ErrEmptyMessage):
			b.reply(chatID, "Использование: /admin_broadcast <текст сообщения>")
		case errors.Is(err, watcher.ErrNoSubscribers):
			b.reply(chatID, "❌ Нет активных подписчиков для рассылки.")
		case errors.Is(err, confirm.ErrConflict):
			b.reply(chatID, "❌ У вас уже есть ожидающая операция. /admin_cancel чтобы отменить ее.")
		default:
			b.log.Error().Err(err).Msg("Broadcast request failed")
			b.reply(chatID, "❌ Не удалось подготовить рассылку.")
		}
		return
	}

	b.reply(chatID, fmt.Sprintf(
		"🚨 Подтверждение рассылки\n\nСообщение:\n%s\n\nПолучателей: %d\n\nДля подтверждения отправьте /confirm_broadcast в течение 5 минут.",
		op.Message, op.Recipients))
}

func (b *Bot) handleConfirmBroadcast(ctx context.Context, chatID int64) {
	progress := func(done, total, success, failed int) {
		b.reply(chatID, fmt.Sprintf("📊 Прогресс: %d/%d (✅ %d, ❌ %d)", done, total, success, failed))
	}

	result, err := b.svc.ConfirmBroadcast(ctx, chatID, progress)
	if err != nil {
		b.replyConfirmError(chatID, err)
		return
	}

	b.reply(chatID, deliveryReport(result))
}

func (b *Bot) handleAdminUnsubscribeAll(ctx context.Context, chatID int64) {
	op, err := b.svc.RequestUnsubscribeAll(ctx, chatID)
	if err != nil {
		switch {
		case errors.Is(err, watcher.ErrNoSubscribers):
			b.reply(chatID, "ℹ️ Активных подписчиков нет.")
		case errors.Is(err, confirm.ErrConflict):
			b.reply(chatID, "❌ У вас уже есть ожидающая операция. /admin_cancel чтобы отменить ее.")
		default:
			b.log.Error().Err(err).Msg("Unsubscribe-all request failed")
			b.reply(chatID, "❌ Не удалось подготовить операцию.")
		}
		return
	}

	b.reply(chatID, fmt.Sprintf(
		"🚨 ВНИМАНИЕ: будет отписано %d подписчиков.\n\nДля подтверждения отправьте /confirm_unsubscribe_all в течение 5 минут.",
		op.Recipients))
}

func (b *Bot) handleConfirmUnsubscribeAll(ctx context.Context, chatID int64) {
	affected, err := b.svc.ConfirmUnsubscribeAll(ctx, chatID)
	if err != nil {
		b.replyConfirmError(chatID, err)
		return
	}

	b.reply(chatID, fmt.Sprintf("✅ Отписано подписчиков: %d", affected))
}

func (b *Bot) handleAdminCancel(chatID int64) {
	if b.svc.CancelPending(chatID) {
		b.reply(chatID, "✅ Ожидающая операция отменена.")
	} else {
		b.reply(chatID, "ℹ️ Нет ожидающих операций.")
	}
}

func (b *Bot) handleSetInterval(ctx context.Context, chatID int64, args string) {
	current := b.svc.IntervalHours(ctx)

	hours, err := strconv.Atoi(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf(
			"⚙️ Текущий интервал: %d ч.\n\nИспользование: /admin_set_interval <часы> (от %d до %d)",
			current, watcher.MinIntervalHours, watcher.MaxIntervalHours))
		return
	}

	if hours == current {
		b.reply(chatID, fmt.Sprintf("ℹ️ Интервал уже установлен на %d ч.", hours))
		return
	}

	if err := b.svc.SetIntervalHours(ctx, hours); err != nil {
		if errors.Is(err, watcher.ErrInvalidInterval) {
			b.reply(chatID, fmt.Sprintf("❌ Интервал должен быть от %d до %d часов.", watcher.MinIntervalHours, watcher.MaxIntervalHours))
		} else {
			b.log.Error().Err(err).Msg("Interval change failed")
			b.reply(chatID, "❌ Не удалось изменить интервал.")
		}
		return
	}

	b.reply(chatID, fmt.Sprintf("✅ Интервал изменен: %d ч → %d ч. Следующая проверка через %d ч.", current, hours, hours))
}

func (b *Bot) handleAdminSearch(ctx context.Context, chatID int64, query string) {
	if query == "" {
		b.reply(chatID, searchHelpText)
		return
	}

	results, err := b.svc.Search(ctx, query)
	if err != nil {
		var unknown *search.ErrUnknownKey
		if errors.As(err, &unknown) {
			b.reply(chatID, fmt.Sprintf("❌ Неизвестный параметр поиска: %s\n\n%s", unknown.Key, searchHelpText))
			return
		}
		b.log.Error().Err(err).Msg("Search failed")
		b.reply(chatID, "❌ Ошибка поиска.")
		return
	}

	if len(results) == 0 {
		b.reply(chatID, "🔍 По вашему запросу ничего не найдено.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Результаты поиска (%d):\n\n", len(results))
	for i, row := range results {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, fallback(row.Place, "место не указано"), fallback(row.District, "район не указан"))
		fmt.Fprintf(&sb, "   Адреса: %s\n", fallback(row.Addresses, "-"))
		fmt.Fprintf(&sb, "   Период: %s — %s\n", fallback(row.DateFrom, "-"), fallback(row.DateTo, "-"))
		fmt.Fprintf(&sb, "   Добавлено: %s\n\n", row.CreatedAt.Format("02.01.2006"))
	}

	b.reply(chatID, sb.String())
}

// replyConfirmError phrases the confirmation gate outcomes distinctly:
// an expired confirmation must not read like "nothing pending".
func (b *Bot) replyConfirmError(chatID int64, err error) {
	switch {
	case errors.Is(err, confirm.ErrNotPending):
		b.reply(chatID, "❌ Нет ожидающих операций для подтверждения.")
	case errors.Is(err, confirm.ErrExpired):
		b.reply(chatID, "⌛ Время подтверждения истекло (5 минут). Повторите команду заново.")
	default:
		b.log.Error().Err(err).Msg("Confirmation failed")
		b.reply(chatID, "❌ Не удалось выполнить операцию.")
	}
}

// NotifyAdmins sends a message to every allowlisted operator.
func (b *Bot) NotifyAdmins(text string) {
	for _, adminID := range b.cfg.Telegram.AdminChatIDs {
		if _, err := b.api.Send(tgbotapi.NewMessage(adminID, text)); err != nil {
			b.log.Warn().Err(err).Int64("chat_id", adminID).Msg("Failed to notify admin")
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send reply")
	}
}

func deliveryReport(result *broadcast.Result) string {
	var sb strings.Builder
	sb.WriteString("✅ Рассылка завершена!\n\n")
	fmt.Fprintf(&sb, "Всего получателей: %d\n", result.Total())
	fmt.Fprintf(&sb, "Доставлено: %d\n", result.Success)
	fmt.Fprintf(&sb, "Ошибок доставки: %d\n", result.Failed)
	fmt.Fprintf(&sb, "Эффективность: %d%%", result.SuccessRate())
	if result.Failed > 0 {
		sb.WriteString("\n\n⚠️ Часть сообщений не доставлена (пользователи могли заблокировать бота).")
	}
	return sb.String()
}

func summarizeOutages(outages []models.Outage) string {
	if len(outages) == 0 {
		return "ℹ️ В последней проверке отключений не найдено."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⚡ Отключения из последней проверки (%d):\n\n", len(outages))
	for i, o := range outages {
		fmt.Fprintf(&sb, "%d. %s: %s — %s\n", i+1, fallback(o.Place, "место не указано"), fallback(o.DateFrom, "-"), fallback(o.DateTo, "-"))
	}
	return sb.String()
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

const helpText = `⚡ Бот уведомлений об отключениях электроэнергии

Команды:
/subscribe - подписаться на уведомления
/unsubscribe - отписаться
/status - статус подписки и последней проверки
/get - получить последний отчет
/help - эта справка`

const searchHelpText = `🔍 Поиск отключений

Использование: /admin_search [параметры]

Параметры:
• район:название или district:name
• место:название или place:name
• дата:дд.мм.гггг или date:...
• лимит:число или limit:n

Токен без двоеточия ищется как район.`
