package bot

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
	"github.com/merdocx/veilbot-sub000/internal/services"
	"github.com/merdocx/veilbot-sub000/internal/syncer"
)

// App — контекст бота: все зависимости передаются явно при старте,
// глобального состояния нет.
type App struct {
	API         *tgbotapi.BotAPI
	Store       *db.Store
	Provisioner *services.Provisioner
	YooKassa    *services.YooKassaClient
	Sync        *syncer.Engine
	Monitor     *services.StatusMonitor
	Notifier    *logger.Notifier

	AdminID       int64
	PublicBaseURL string

	limiter *RateLimiter

	// pendingEmail — пользователи, от которых ждём email для чека:
	// chat id -> выбранный тариф.
	mu           sync.Mutex
	pendingEmail map[int64]uint
}

func NewApp(api *tgbotapi.BotAPI, store *db.Store, prov *services.Provisioner, yk *services.YooKassaClient, eng *syncer.Engine, monitor *services.StatusMonitor, notifier *logger.Notifier, adminID int64, baseURL string) *App {
	return &App{
		API:           api,
		Store:         store,
		Provisioner:   prov,
		YooKassa:      yk,
		Sync:          eng,
		Monitor:       monitor,
		Notifier:      notifier,
		AdminID:       adminID,
		PublicBaseURL: baseURL,
		limiter:       NewRateLimiter(),
		pendingEmail:  make(map[int64]uint),
	}
}

func (a *App) IsAdmin(userID int64) bool {
	return userID == a.AdminID
}

// Run запускает long polling. Паника в обработчике одного апдейта
// не роняет процесс.
func (a *App) Run() {
	logger.Info("bot started", zap.String("username", a.API.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := a.API.GetUpdatesChan(u)

	for update := range updates {
		func() {
			defer a.Notifier.NotifyOnPanic("bot update")
			a.HandleUpdate(update)
		}()
	}
}

func (a *App) send(c tgbotapi.Chattable) {
	if _, err := a.API.Send(c); err != nil {
		logger.Error("bot send failed", zap.Error(err))
	}
}

func (a *App) setPendingEmail(chatID int64, tariffID uint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingEmail[chatID] = tariffID
}

func (a *App) takePendingEmail(chatID int64) (uint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.pendingEmail[chatID]
	if ok {
		delete(a.pendingEmail, chatID)
	}
	return id, ok
}
