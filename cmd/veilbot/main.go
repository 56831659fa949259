package main

import (
	"context"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/config"
	"github.com/merdocx/veilbot-sub000/internal/admin"
	"github.com/merdocx/veilbot-sub000/internal/bot"
	"github.com/merdocx/veilbot-sub000/internal/db"
	"github.com/merdocx/veilbot-sub000/internal/logger"
	"github.com/merdocx/veilbot-sub000/internal/services"
	"github.com/merdocx/veilbot-sub000/internal/syncer"
	"github.com/merdocx/veilbot-sub000/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	defer logger.Sync()

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	botapi, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}
	notifier := logger.NewNotifier(botapi, cfg.AdminTelegramID)

	provisioner := services.NewProvisioner(store, cfg.PublicBaseURL)
	userNotifier := services.NewUserNotifier(botapi, store, cfg.PublicBaseURL)
	yookassa := services.NewYooKassaClient(cfg.YooKassaShopID, cfg.YooKassaSecret)
	engine := syncer.New(store)
	monitor := services.NewStatusMonitor(store, notifier)
	expiry := services.NewExpiryService(store)
	expiry.Alert = notifier

	webhook := &services.WebhookHandler{
		Secret:      cfg.YooKassaSecret,
		Store:       store,
		Provisioner: provisioner,
		Notifier:    userNotifier,
		Alert:       notifier,
	}

	// Фоновые задачи.
	c := cron.New()
	c.AddFunc("@every 1m", monitor.Refresh)
	c.AddFunc("@every 10m", userNotifier.RetryUnnotified)
	// Отключение просроченных ключей с отзывом на серверах.
	c.AddFunc("30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		expiry.CleanupExpired(ctx)
	})
	// Напоминания о скором окончании подписки.
	c.AddFunc("0 10 * * *", func() {
		services.NotifyExpiring(botapi, store, 3)
	})
	// Суточный бэкап БД с отправкой оператору.
	c.AddFunc("0 3 * * *", func() {
		admin.AutoBackupDatabase(botapi, cfg.AdminTelegramID, cfg.DatabaseURL)
	})
	c.Start()

	// HTTP: webhook оплаты, subscription-ссылки, админ-панель.
	srv := web.NewHTTPServer(cfg.ListenAddr, web.Options{
		Store:             store,
		Sync:              engine,
		Webhook:           webhook,
		Monitor:           monitor,
		Payments:          yookassa,
		AdminPasswordHash: cfg.AdminPasswordHash,
		SessionSecret:     cfg.SessionSecret,
		SyncTimeout:       cfg.SyncTimeout,
	})
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil {
			log.Fatalf("http server: %v", err)
		}
	}()

	app := bot.NewApp(botapi, store, provisioner, yookassa, engine, monitor, notifier,
		cfg.AdminTelegramID, cfg.PublicBaseURL)
	app.Run()
}
