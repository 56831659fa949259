package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (a *App) replyKeyboard(userID int64) tgbotapi.ReplyKeyboardMarkup {
	if a.IsAdmin(userID) {
		return tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/admin_stats"),
				tgbotapi.NewKeyboardButton("/admin_status"),
				tgbotapi.NewKeyboardButton("/admin_sync"),
			),
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/tariffs"),
				tgbotapi.NewKeyboardButton("/mykeys"),
			),
		)
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/tariffs"),
			tgbotapi.NewKeyboardButton("/mykeys"),
		),
	)
}
