package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
	"github.com/merdocx/veilbot-sub000/internal/services"
	"github.com/merdocx/veilbot-sub000/internal/syncer"
)

const genericFailure = "Не получилось выдать ключ, попробуйте позже. Мы уже разбираемся."

func (a *App) HandleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		a.handleCallback(update.CallbackQuery)
		return
	}
	if update.Message == nil || update.Message.From == nil {
		return
	}

	msg := update.Message
	userID := msg.From.ID

	// Регистрируем пользователя на любом апдейте.
	user, err := a.Store.GetOrCreateUser(userID)
	if err != nil {
		logger.Error("get or create user", zap.Int64("telegram_id", userID), zap.Error(err))
		return
	}

	text := strings.TrimSpace(msg.Text)
	cmd := text
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		cmd = cmd[:i]
	}
	if !a.IsAdmin(userID) && strings.HasPrefix(cmd, "/") && a.limiter.IsLimited(userID, cmd) {
		a.send(tgbotapi.NewMessage(msg.Chat.ID, "Пожалуйста, не так быстро! Подождите пару секунд..."))
		return
	}

	if a.IsAdmin(userID) && strings.HasPrefix(cmd, "/admin_") {
		a.handleAdminCommand(msg, cmd)
		return
	}

	switch cmd {
	case "/start":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Добро пожаловать в VeilBot! Выберите тариф: /tariffs")
		reply.ReplyMarkup = a.replyKeyboard(userID)
		a.send(reply)
	case "/tariffs", "/buy":
		a.sendTariffList(msg.Chat.ID)
	case "/mykeys":
		a.sendMyKeys(msg.Chat.ID, user)
	default:
		// Не команда — возможно, ждём email для чека.
		if tariffID, ok := a.takePendingEmail(msg.Chat.ID); ok {
			a.handleEmail(msg.Chat.ID, user, tariffID, text)
			return
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Команды: /tariffs — купить VPN, /mykeys — ваши ключи.")
		reply.ReplyMarkup = a.replyKeyboard(userID)
		a.send(reply)
	}
}

func (a *App) sendTariffList(chatID int64) {
	tariffs, err := a.Store.ListTariffs("", true)
	if err != nil {
		logger.Error("list tariffs", zap.Error(err))
		a.send(tgbotapi.NewMessage(chatID, genericFailure))
		return
	}
	if len(tariffs) == 0 {
		a.send(tgbotapi.NewMessage(chatID, "Сейчас нет доступных тарифов, попробуйте позже."))
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range tariffs {
		label := fmt.Sprintf("%s — %s₽ / %d дн.", t.Name, t.Price.StringFixed(0), t.DurationDays)
		if t.IsFree() {
			label = fmt.Sprintf("%s — бесплатно / %d дн.", t.Name, t.DurationDays)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "tariff_"+strconv.FormatUint(uint64(t.ID), 10)),
		))
	}
	reply := tgbotapi.NewMessage(chatID, "Выберите тариф:")
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	a.send(reply)
}

func (a *App) handleCallback(cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	if !strings.HasPrefix(data, "tariff_") {
		a.answerCallback(cb.ID, "")
		return
	}
	tariffID, err := strconv.ParseUint(strings.TrimPrefix(data, "tariff_"), 10, 32)
	if err != nil {
		a.answerCallback(cb.ID, "Ошибка выбора тарифа")
		return
	}
	user, err := a.Store.GetOrCreateUser(cb.From.ID)
	if err != nil {
		a.answerCallback(cb.ID, "Ошибка, попробуйте позже")
		return
	}
	tariff, err := a.Store.GetTariff(uint(tariffID))
	if err != nil || !tariff.Active {
		a.answerCallback(cb.ID, "Тариф не найден или снят с продажи")
		return
	}
	chatID := cb.Message.Chat.ID

	if tariff.IsFree() {
		a.answerCallback(cb.ID, "Выдаём ключ...")
		a.claimFree(chatID, user, tariff)
		return
	}

	// Платный тариф: просим email для чека, оплата после него.
	a.setPendingEmail(chatID, tariff.ID)
	a.answerCallback(cb.ID, "Тариф выбран")
	a.send(tgbotapi.NewMessage(chatID,
		fmt.Sprintf("Тариф «%s», %s₽. Пришлите email для чека.", tariff.Name, tariff.Price.StringFixed(0))))
}

func (a *App) claimFree(chatID int64, user *db.User, tariff *db.Tariff) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := a.Provisioner.ClaimFreeTariff(ctx, user, tariff)
	if err != nil {
		if errors.Is(err, services.ErrAlreadyClaimed) {
			a.send(tgbotapi.NewMessage(chatID, "Бесплатный тариф можно получить только один раз."))
			return
		}
		logger.Error("free claim failed", zap.Uint("tariff_id", tariff.ID), zap.Error(err))
		a.Notifier.NotifyAdmin("Ошибка бесплатной выдачи: " + err.Error())
		a.send(tgbotapi.NewMessage(chatID, genericFailure))
		return
	}
	a.sendIssued(chatID, res)
}

func (a *App) handleEmail(chatID int64, user *db.User, tariffID uint, email string) {
	if !strings.Contains(email, "@") || strings.ContainsAny(email, " \t") {
		a.setPendingEmail(chatID, tariffID)
		a.send(tgbotapi.NewMessage(chatID, "Похоже, это не email. Пришлите адрес вида name@example.com."))
		return
	}
	tariff, err := a.Store.GetTariff(tariffID)
	if err != nil {
		a.send(tgbotapi.NewMessage(chatID, genericFailure))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pr, err := a.YooKassa.CreatePayment(ctx, services.PaymentRequest{
		Amount:      tariff.Price,
		Description: fmt.Sprintf("VeilBot: тариф «%s»", tariff.Name),
		Email:       email,
		ReturnURL:   a.PublicBaseURL,
		Metadata: map[string]interface{}{
			"telegram_id": user.TelegramID,
			"tariff_id":   tariff.ID,
		},
	})
	if err != nil {
		logger.Error("create yookassa payment", zap.Error(err))
		a.Notifier.NotifyAdmin("Ошибка создания платежа: " + err.Error())
		a.send(tgbotapi.NewMessage(chatID, "Не удалось создать платёж, попробуйте позже."))
		return
	}
	pay := &db.Payment{
		UserID:    user.ID,
		TariffID:  tariff.ID,
		GatewayID: pr.ID,
		Amount:    tariff.Price,
		Email:     email,
		Status:    db.PaymentPending,
	}
	if err := a.Store.CreatePayment(pay); err != nil {
		logger.Error("save payment", zap.String("gateway_id", pr.ID), zap.Error(err))
		a.Notifier.NotifyAdmin("Платёж создан в шлюзе, но не сохранён: " + pr.ID)
		a.send(tgbotapi.NewMessage(chatID, genericFailure))
		return
	}
	a.send(tgbotapi.NewMessage(chatID,
		"Ссылка на оплату: "+pr.Confirmation.ConfirmationURL+"\n\nКлюч придёт сюда сразу после оплаты."))
}

func (a *App) sendMyKeys(chatID int64, user *db.User) {
	var sb strings.Builder
	okeys, _, err := a.Store.ListOutlineKeys(db.ListFilter{UserID: user.ID, Status: "active"})
	if err != nil {
		logger.Error("list outline keys", zap.Error(err))
	}
	for _, k := range okeys {
		fmt.Fprintf(&sb, "Outline (до %s):\n%s\n\n", k.ExpiresAt.Format("02.01.2006"), k.AccessURL)
	}
	subs, _, err := a.Store.ListSubscriptions(db.ListFilter{UserID: user.ID})
	if err != nil {
		logger.Error("list subscriptions", zap.Error(err))
	}
	for _, s := range subs {
		if !s.Active || s.ExpiresAt.Before(time.Now()) {
			continue
		}
		fmt.Fprintf(&sb, "VPN-подписка (до %s):\n%s/api/subscription/%s\n\n",
			s.ExpiresAt.Format("02.01.2006"), a.PublicBaseURL, s.Token)
	}
	if sb.Len() == 0 {
		a.send(tgbotapi.NewMessage(chatID, "У вас нет активных ключей. Купить: /tariffs"))
		return
	}
	a.send(tgbotapi.NewMessage(chatID, sb.String()))
}

func (a *App) sendIssued(chatID int64, res *services.Result) {
	if res.SubscriptionURL != "" {
		a.send(tgbotapi.NewMessage(chatID, fmt.Sprintf(
			"Готово! Ссылка для импорта в приложение:\n%s\n\nДействует до %s.",
			res.SubscriptionURL, res.ExpiresAt.Format("02.01.2006"))))
		return
	}
	a.send(tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Готово! Ваш ключ:\n%s\n\nДействует до %s.",
		res.AccessURL, res.ExpiresAt.Format("02.01.2006"))))
}

func (a *App) answerCallback(id, text string) {
	if _, err := a.API.Request(tgbotapi.NewCallback(id, text)); err != nil {
		logger.Error("answer callback", zap.Error(err))
	}
}

// --- Админ-команды ---

func (a *App) handleAdminCommand(msg *tgbotapi.Message, cmd string) {
	logger.LogAdminAction(msg.From.ID, cmd, msg.Text)
	switch cmd {
	case "/admin_stats":
		a.adminStats(msg.Chat.ID)
	case "/admin_status":
		a.adminStatus(msg.Chat.ID)
	case "/admin_sync":
		a.adminSync(msg.Chat.ID)
	default:
		a.send(tgbotapi.NewMessage(msg.Chat.ID, "Неизвестная админ-команда."))
	}
}

func (a *App) adminStats(chatID int64) {
	users, err := a.Store.CountUsers()
	if err != nil {
		a.send(tgbotapi.NewMessage(chatID, "Ошибка: "+err.Error()))
		return
	}
	keys, _ := a.Store.CountActiveKeys()
	now := time.Now()
	today, _ := a.Store.SumPayments(now.Truncate(24*time.Hour), now)
	month, _ := a.Store.SumPayments(now.AddDate(0, 0, -30), now)
	a.send(tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Пользователей: %d\nАктивных ключей: %d\nПлатежи: сегодня %.2f₽, месяц %.2f₽",
		users, keys, today, month)))
}

func (a *App) adminStatus(chatID int64) {
	statuses := a.Monitor.Statuses()
	if len(statuses) == 0 {
		a.send(tgbotapi.NewMessage(chatID, "Статусы серверов ещё не собраны."))
		return
	}
	var sb strings.Builder
	for _, st := range statuses {
		mark := "✅"
		if !st.Online {
			mark = "❌"
		}
		fmt.Fprintf(&sb, "%s %s (проверен %s)\n", mark, st.Name, st.LastChecked.Format("15:04:05"))
	}
	a.send(tgbotapi.NewMessage(chatID, sb.String()))
}

func (a *App) adminSync(chatID int64) {
	a.send(tgbotapi.NewMessage(chatID, "Запускаю синхронизацию (только обновление кэша, без удалений)..."))
	go func() {
		defer a.Notifier.NotifyOnPanic("admin sync")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		report, err := a.Sync.Run(ctx, syncer.Options{IncludeV2Ray: true, IncludeOutline: true})
		if err != nil {
			a.send(tgbotapi.NewMessage(chatID, "Синхронизация не запустилась: "+err.Error()))
			return
		}
		a.send(tgbotapi.NewMessage(chatID, fmt.Sprintf(
			"Синхронизация завершена.\nКлючей: %d, обновлено: %d, без изменений: %d, ошибок: %d\nСерверов: %d, расхождений: %d",
			report.TotalKeys, report.Updated, report.Unchanged, report.Failed,
			report.ServersProcessed, report.MissingPairsTotal)))
	}()
}
