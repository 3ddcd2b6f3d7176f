package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/devzone-it/media-fetch-bot/internal/gate"
	"github.com/devzone-it/media-fetch-bot/internal/render"
)

func (a *App) handleCommand(ctx context.Context, log zerolog.Logger, msg tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch msg.Command() {
	case "start":
		a.handleStart(ctx, log, chatID, userID)
	case "help":
		a.reply(log, chatID, render.Help(a.cfg.MaxFileSizeBytes()), nil)
	case "stats":
		u, ok, err := a.ledger.Get(ctx, userID)
		if err != nil || !ok {
			log.Warn().Err(err).Bool("found", ok).Msg("read user stats")
			return
		}
		a.reply(log, chatID, render.UserStats(u), nil)
	case "global":
		if !a.cfg.IsAdmin(userID) {
			a.reply(log, chatID, render.TextAdminOnly, nil)
			return
		}
		st, err := a.ledger.Stats(ctx)
		if err != nil {
			log.Error().Err(err).Msg("read global stats")
			return
		}
		a.reply(log, chatID, render.GlobalStats(st), nil)
	case "backup":
		if !a.cfg.IsAdmin(userID) {
			a.reply(log, chatID, render.TextAdminOnly, nil)
			return
		}
		a.sendBackup(ctx, log, chatID)
	default:
		a.handleStart(ctx, log, chatID, userID)
	}
}

func (a *App) handleStart(ctx context.Context, log zerolog.Logger, chatID, userID int64) {
	if err := a.checkGate(ctx, userID); err != nil {
		log.Info().Err(err).Msg("start: not subscribed")
		kb := render.SubscribeKeyboard(a.gate.Channels())
		a.reply(log, chatID, render.TextSubscribePrompt, &kb)
		return
	}
	a.reply(log, chatID, render.TextWelcome, nil)
}

func (a *App) checkGate(ctx context.Context, userID int64) error {
	err := a.gate.Check(ctx, userID)
	a.m.GateChecks.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	return err
}

func (a *App) handleCallback(ctx context.Context, q tgbotapi.CallbackQuery) {
	if _, err := a.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		a.log.Debug().Err(err).Msg("answer callback")
	}
	if q.From == nil || q.Message == nil || q.Data != gate.CheckCallback {
		return
	}

	userID := q.From.ID
	log := a.log.With().Str("req_id", uuid.NewString()).Int64("user_id", userID).Logger()
	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID

	var edit tgbotapi.EditMessageTextConfig
	if err := a.checkGate(ctx, userID); err != nil {
		log.Info().Err(err).Msg("re-check: not subscribed")
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, render.TextSubscribeMissing,
			render.SubscribeKeyboard(a.gate.Channels()))
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, msgID, render.TextSubscribeConfirmed)
	}
	if _, err := a.api.Request(edit); err != nil {
		log.Warn().Err(err).Msg("edit subscribe message")
	}
}

// sendBackup snapshots the ledger into a temp file, sends it as a document
// and removes the file.
func (a *App) sendBackup(ctx context.Context, log zerolog.Logger, chatID int64) {
	ext := ".json"
	if a.cfg.LedgerBackend == "sqlite" {
		ext = ".db"
	}
	tmp := filepath.Join(a.cfg.DataDir, fmt.Sprintf("backup_%d_users%s", time.Now().Unix(), ext))
	defer os.Remove(tmp)

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if err := a.ledger.BackupTo(ctx, tmp); err != nil {
		log.Error().Err(err).Msg("backup ledger")
		a.reply(log, chatID, render.TextBackupFailed, nil)
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(tmp))
	doc.Caption = "📦 Backup"
	if _, err := a.api.Send(doc); err != nil {
		log.Error().Err(&SendError{Kind: "document", Err: err}).Msg("send backup")
		a.reply(log, chatID, render.TextBackupFailed, nil)
	}
}
