package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config — конфигурация приложения. Загружается один раз при старте и
// передаётся явно во все компоненты, без глобального состояния.
type Config struct {
	BotToken        string
	AdminTelegramID int64

	YooKassaShopID string
	YooKassaSecret string

	DatabaseURL string

	// ListenAddr — адрес HTTP-сервера (webhook, подписки, админ-панель).
	ListenAddr string
	// PublicBaseURL — внешний адрес, с которого раздаются subscription-ссылки
	// и на который YooKassa возвращает пользователя после оплаты.
	PublicBaseURL string

	// AdminPasswordHash — bcrypt-хэш пароля оператора админ-панели.
	AdminPasswordHash string
	SessionSecret     string

	// SyncTimeout — таймаут ответа для запуска синхронизации ключей:
	// минуты, не секунды, полный прогон по всем серверам может быть долгим.
	SyncTimeout time.Duration
}

// Load читает .env (если есть) и собирает конфигурацию из переменных окружения.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}

	cfg := &Config{
		BotToken:          os.Getenv("BOT_TOKEN"),
		YooKassaShopID:    os.Getenv("YOOKASSA_SHOP_ID"),
		YooKassaSecret:    os.Getenv("YOOKASSA_SECRET_KEY"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ListenAddr:        getenvDefault("LISTEN_ADDR", ":8080"),
		PublicBaseURL:     getenvDefault("PUBLIC_BASE_URL", "http://localhost:8080"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		SyncTimeout:       5 * time.Minute,
	}

	adminID, err := strconv.ParseInt(os.Getenv("ADMIN_TELEGRAM_ID"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID: %w", err)
	}
	cfg.AdminTelegramID = adminID

	if v := os.Getenv("SYNC_TIMEOUT_MINUTES"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SYNC_TIMEOUT_MINUTES: %w", err)
		}
		cfg.SyncTimeout = time.Duration(m) * time.Minute
	}

	for name, val := range map[string]string{
		"BOT_TOKEN":           cfg.BotToken,
		"YOOKASSA_SHOP_ID":    cfg.YooKassaShopID,
		"YOOKASSA_SECRET_KEY": cfg.YooKassaSecret,
		"DATABASE_URL":        cfg.DatabaseURL,
		"ADMIN_PASSWORD_HASH": cfg.AdminPasswordHash,
		"SESSION_SECRET":      cfg.SessionSecret,
	} {
		if val == "" {
			return nil, fmt.Errorf("critical environment variable %s is missing", name)
		}
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
