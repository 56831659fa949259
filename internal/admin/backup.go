// Package admin — операторские утилиты вне HTTP-панели: резервные
// копии базы и их ротация.
package admin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/merdocx/veilbot-sub000/internal/logger"
)

const backupDir = "backups"

// BackupDatabase создаёт дамп Postgres в указанный файл.
func BackupDatabase(filename, dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, "pg_dump", dsn, "-Fc", "-f", filename)
	return cmd.Run()
}

// AutoBackupDatabase — суточный бэкап: дамп, отправка файла оператору,
// чистка дампов старше месяца. Запускается по cron.
func AutoBackupDatabase(bot *tgbotapi.BotAPI, adminID int64, dsn string) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		logger.Error("backup: mkdir", zap.Error(err))
		return
	}
	filename := filepath.Join(backupDir, "veilbot-"+time.Now().Format("2006-01-02")+".dump")
	if err := BackupDatabase(filename, dsn); err != nil {
		logger.Error("backup: pg_dump", zap.Error(err))
		if bot != nil {
			bot.Send(tgbotapi.NewMessage(adminID, "[ALERT] Бэкап БД не удался: "+err.Error()))
		}
		return
	}
	if bot != nil {
		doc := tgbotapi.NewDocument(adminID, tgbotapi.FilePath(filename))
		doc.Caption = "Суточный бэкап БД"
		if _, err := bot.Send(doc); err != nil {
			logger.Error("backup: send to admin", zap.Error(err))
		}
	}
	if err := CleanOldBackups(backupDir, 30*24*time.Hour); err != nil {
		logger.Error("backup: clean old", zap.Error(err))
	}
}

// CleanOldBackups удаляет дампы старше maxAge.
func CleanOldBackups(dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
