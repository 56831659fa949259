package services

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
)

// ExpiringStore — срез репозитория для напоминаний о скором окончании.
type ExpiringStore interface {
	GetUser(id uint) (*db.User, error)
	ListSubscriptions(f db.ListFilter) ([]db.Subscription, int64, error)
}

// NotifyExpiring отправляет напоминания пользователям, чьи подписки и ключи
// истекают в ближайшие daysBefore дней. Запускается по cron раз в сутки.
func NotifyExpiring(bot MessageSender, store ExpiringStore, daysBefore int) {
	deadline := time.Now().Add(time.Duration(daysBefore) * 24 * time.Hour)

	subs, _, err := store.ListSubscriptions(db.ListFilter{Limit: 200})
	if err != nil {
		logger.Error("notify expiring: list subscriptions", zap.Error(err))
		return
	}
	for _, sub := range subs {
		if !sub.Active || sub.ExpiresAt.After(deadline) || sub.ExpiresAt.Before(time.Now()) {
			continue
		}
		user, err := store.GetUser(sub.UserID)
		if err != nil {
			logger.Error("notify expiring: user lookup", zap.Uint("user_id", sub.UserID), zap.Error(err))
			continue
		}
		text := fmt.Sprintf("Ваша подписка VPN истекает %s. Продлить можно в боте: /tariffs",
			sub.ExpiresAt.Format("02.01.2006"))
		if _, err := bot.Send(tgbotapi.NewMessage(user.TelegramID, text)); err != nil {
			logger.Warn("notify expiring: send failed", zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
		}
	}
}
