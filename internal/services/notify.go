package services

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
)

// MessageSender — минимальный интерфейс Telegram-отправки (для тестов).
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NotifyStore — срез репозитория для доставки уведомлений.
type NotifyStore interface {
	GetUser(id uint) (*db.User, error)
	UnnotifiedSubscriptions() ([]db.Subscription, error)
	MarkSubscriptionNotified(id uint) error
}

// UserNotifier доставляет пользователям выданные ключи. Доставка
// best-effort: ограниченное число попыток с экспоненциальной паузой,
// выданный ключ при неудаче не откатывается — подписку позже дожимает
// фоновый повтор RetryUnnotified.
type UserNotifier struct {
	Bot           MessageSender
	Store         NotifyStore
	PublicBaseURL string
	// Attempts — число попыток отправки, по умолчанию 3.
	Attempts int
	// Backoff — базовая пауза между попытками, по умолчанию 1s.
	Backoff time.Duration
}

func NewUserNotifier(bot MessageSender, store NotifyStore, baseURL string) *UserNotifier {
	return &UserNotifier{Bot: bot, Store: store, PublicBaseURL: baseURL, Attempts: 3, Backoff: time.Second}
}

// NotifyIssued отправляет пользователю результат выдачи.
func (n *UserNotifier) NotifyIssued(userID uint, res *Result) {
	user, err := n.Store.GetUser(userID)
	if err != nil {
		logger.Error("notify: user lookup", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if err := n.sendWithRetry(user.TelegramID, issuedMessage(res)); err != nil {
		logger.Error("notify: delivery failed",
			zap.Uint("user_id", userID),
			zap.Int64("telegram_id", user.TelegramID),
			zap.Error(err))
		// Подписка остаётся с notified=false и будет дожата фоновым повтором.
		return
	}
	if res.SubscriptionID != 0 {
		if err := n.Store.MarkSubscriptionNotified(res.SubscriptionID); err != nil {
			logger.Error("notify: mark notified", zap.Uint("subscription_id", res.SubscriptionID), zap.Error(err))
		}
	}
}

func issuedMessage(res *Result) string {
	if res.SubscriptionURL != "" {
		return fmt.Sprintf(
			"Оплата получена! Ваша подписка VPN готова.\n\nСсылка для импорта в приложение:\n%s\n\nДействует до %s.",
			res.SubscriptionURL, res.ExpiresAt.Format("02.01.2006"))
	}
	return fmt.Sprintf(
		"Оплата получена! Ваш ключ VPN:\n\n%s\n\nДействует до %s.",
		res.AccessURL, res.ExpiresAt.Format("02.01.2006"))
}

func (n *UserNotifier) sendWithRetry(chatID int64, text string) error {
	attempts := n.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := n.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(backoff << (i - 1))
		}
		if _, err = n.Bot.Send(tgbotapi.NewMessage(chatID, text)); err == nil {
			return nil
		}
	}
	return err
}

// RetryUnnotified — фоновый проход по подпискам без доставленного
// уведомления. Запускается по cron.
func (n *UserNotifier) RetryUnnotified() {
	subs, err := n.Store.UnnotifiedSubscriptions()
	if err != nil {
		logger.Error("notify sweep: list", zap.Error(err))
		return
	}
	for _, sub := range subs {
		user, err := n.Store.GetUser(sub.UserID)
		if err != nil {
			logger.Error("notify sweep: user lookup", zap.Uint("user_id", sub.UserID), zap.Error(err))
			continue
		}
		res := &Result{
			Protocol:        db.ProtocolV2Ray,
			SubscriptionURL: n.PublicBaseURL + "/api/subscription/" + sub.Token,
			SubscriptionID:  sub.ID,
			ExpiresAt:       sub.ExpiresAt,
		}
		if err := n.sendWithRetry(user.TelegramID, issuedMessage(res)); err != nil {
			logger.Warn("notify sweep: delivery still failing", zap.Uint("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		if err := n.Store.MarkSubscriptionNotified(sub.ID); err != nil {
			logger.Error("notify sweep: mark notified", zap.Uint("subscription_id", sub.ID), zap.Error(err))
		}
	}
}
