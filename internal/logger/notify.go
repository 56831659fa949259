package logger

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier отправляет критические уведомления оператору в Telegram.
// Создаётся один раз в main и передаётся компонентам явно.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	adminID int64
}

func NewNotifier(bot *tgbotapi.BotAPI, adminID int64) *Notifier {
	return &Notifier{bot: bot, adminID: adminID}
}

// NotifyAdmin отправляет критическое уведомление админу.
func (n *Notifier) NotifyAdmin(msg string) {
	if n == nil || n.bot == nil || n.adminID == 0 {
		return
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.adminID, "[ALERT] "+msg)); err != nil {
		Error("admin notify failed", zap.Error(err))
	}
}

// NotifyOnPanic ловит панику в обработчике, логирует и уведомляет оператора.
// Использовать через defer в начале обработчика.
func (n *Notifier) NotifyOnPanic(context string) {
	if r := recover(); r != nil {
		Error("panic recovered", zap.String("context", context), zap.Any("panic", r))
		n.NotifyAdmin(fmt.Sprintf("Panic in %s: %v", context, r))
	}
}
