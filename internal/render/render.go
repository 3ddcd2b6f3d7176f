package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devzone-it/media-fetch-bot/internal/fetch"
	"github.com/devzone-it/media-fetch-bot/internal/gate"
	"github.com/devzone-it/media-fetch-bot/internal/ledger"
)

// Telegram rejects longer media captions.
const maxCaptionRunes = 1024

const (
	TextWelcome            = "Кидай ссылку с TikTok, YouTube, Instagram или Pinterest."
	TextSubscribePrompt    = "Подпишись на все каналы, чтобы пользоваться ботом."
	TextSubscribeFirst     = "Сначала подпишись на каналы."
	TextSubscribeConfirmed = "✅ Подписка подтверждена. Можешь отправлять ссылки."
	TextSubscribeMissing   = "❌ Ты не подписался на все каналы."
	TextNotURL             = "Это не ссылка."
	TextDownloading        = "⏳ Скачиваю..."
	TextFetchFailed        = "❌ Не удалось получить медиа."
	TextFileMissing        = "❌ Файл не был создан."
	TextSendFailed         = "❌ Ошибка при отправке файла."
	TextSlowDown           = "⏳ Слишком много ссылок подряд. Подожди немного."
	TextAdminOnly          = "⛔️ Команда доступна только администраторам."
	TextBackupFailed       = "❌ Не удалось создать бэкап."
)

// ChannelURL turns "@name" into a t.me deep link.
func ChannelURL(channel string) string {
	return "https://t.me/" + strings.TrimPrefix(channel, "@")
}

// SubscribeKeyboard has one link button per channel and a final re-check button.
func SubscribeKeyboard(channels []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels)+1)
	for _, ch := range channels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📢 Подписаться "+ch, ChannelURL(ch)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Проверить", gate.CheckCallback),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func Caption(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return fetch.DefaultTitle
	}
	if utf8.RuneCountInString(title) <= maxCaptionRunes {
		return title
	}
	r := []rune(title)
	return string(r[:maxCaptionRunes-1]) + "…"
}

func Help(maxFileSize int64) string {
	return "📥 Пришли ссылку на видео или фото, и я пришлю файл.\n\n" +
		"Поддерживаются TikTok, YouTube, Instagram, Pinterest и многие другие сайты.\n" +
		fmt.Sprintf("Максимальный размер файла: %s.\n\n", humanize.IBytes(uint64(max(maxFileSize, 0)))) +
		"/stats - твоя статистика"
}

func UserStats(u ledger.User) string {
	return fmt.Sprintf("📊 Скачано файлов: %s\n🗓 С нами с: %s", humanize.Comma(int64(u.Downloads)), u.Registered)
}

func GlobalStats(st ledger.Stats) string {
	return fmt.Sprintf("👥 Пользователей: %s\n📥 Всего загрузок: %s", humanize.Comma(int64(st.Users)), humanize.Comma(int64(st.Downloads)))
}
