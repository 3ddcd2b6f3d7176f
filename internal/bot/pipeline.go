package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/devzone-it/media-fetch-bot/internal/fetch"
	"github.com/devzone-it/media-fetch-bot/internal/metrics"
	"github.com/devzone-it/media-fetch-bot/internal/render"
)

// SendError means the artifact could not be delivered in any form.
type SendError struct {
	Kind string
	Err  error
}

func (e *SendError) Error() string { return fmt.Sprintf("send %s: %v", e.Kind, e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// Reply kinds, also used as metric labels.
const (
	KindPhoto    = "photo"
	KindVideo    = "video"
	KindDocument = "document"
)

var photoExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true}

func isLink(text string) bool {
	return strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://")
}

func (a *App) handleLink(ctx context.Context, log zerolog.Logger, msg tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	link := strings.TrimSpace(msg.Text)

	if !isLink(link) {
		a.m.Requests.WithLabelValues(metrics.ResultNotURL).Inc()
		a.reply(log, chatID, render.TextNotURL, nil)
		return
	}
	if err := a.checkGate(ctx, userID); err != nil {
		log.Info().Err(err).Msg("link rejected: not subscribed")
		a.m.Requests.WithLabelValues(metrics.ResultGateDenied).Inc()
		kb := render.SubscribeKeyboard(a.gate.Channels())
		a.reply(log, chatID, render.TextSubscribeFirst, &kb)
		return
	}
	if !a.limiter.Allow(userID) {
		a.m.Requests.WithLabelValues(metrics.ResultThrottled).Inc()
		a.reply(log, chatID, render.TextSlowDown, nil)
		return
	}

	status := a.reply(log, chatID, render.TextDownloading, nil)
	log = log.With().Str("url", link).Logger()

	// A panic past this point still ends the request with a notice.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("request panicked")
			a.m.Requests.WithLabelValues(metrics.ResultFetchFailed).Inc()
			a.setStatus(log, chatID, status.MessageID, render.TextFetchFailed)
		}
	}()

	err := a.process(ctx, log, chatID, userID, link)
	if err != nil {
		result, text := classify(err)
		a.m.Requests.WithLabelValues(result).Inc()
		log.Warn().Err(err).Str("result", result).Msg("request failed")
		a.setStatus(log, chatID, status.MessageID, text)
		return
	}

	a.m.Requests.WithLabelValues(metrics.ResultDelivered).Inc()
	if _, err := a.ledger.Increment(ctx, userID); err != nil {
		log.Error().Err(err).Msg("count download")
	}
	if status.MessageID != 0 {
		if _, err := a.api.Request(tgbotapi.NewDeleteMessage(chatID, status.MessageID)); err != nil {
			log.Debug().Err(err).Msg("delete status message")
		}
	}
}

// process fetches link and delivers the artifact. The artifact is removed on
// every return path.
func (a *App) process(ctx context.Context, log zerolog.Logger, chatID, userID int64, link string) error {
	base := fetch.ArtifactBase(userID, time.Now())
	defer func() {
		if err := fetch.Cleanup(a.workDir, base); err != nil {
			log.Warn().Err(err).Str("base", base).Msg("cleanup artifact")
		}
	}()

	start := time.Now()
	res, err := a.fetcher.Fetch(ctx, link, base)
	a.m.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	path, err := fetch.Locate(a.workDir, base)
	if err != nil {
		return &fetch.Error{URL: link, Err: err}
	}

	kind, err := a.deliver(log, chatID, path, render.Caption(res.Title))
	if err != nil {
		return err
	}
	a.m.Replies.WithLabelValues(kind).Inc()
	log.Info().Str("kind", kind).Msg("delivered")
	return nil
}

// deliver sends path as a photo for image extensions and as a streaming video
// otherwise. A rejected photo or video is retried as a plain document.
func (a *App) deliver(log zerolog.Logger, chatID int64, path, caption string) (string, error) {
	file := tgbotapi.FilePath(path)

	var (
		kind string
		err  error
	)
	if photoExts[fetch.Ext(path)] {
		kind = KindPhoto
		p := tgbotapi.NewPhoto(chatID, file)
		p.Caption = caption
		_, err = a.api.Send(p)
	} else {
		kind = KindVideo
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption = caption
		v.SupportsStreaming = true
		_, err = a.api.Send(v)
	}
	if err == nil {
		return kind, nil
	}
	log.Warn().Err(err).Str("kind", kind).Msg("media rejected, sending as document")

	d := tgbotapi.NewDocument(chatID, file)
	d.Caption = caption
	if _, derr := a.api.Send(d); derr != nil {
		return KindDocument, &SendError{Kind: KindDocument, Err: errors.Join(err, derr)}
	}
	return KindDocument, nil
}

func classify(err error) (result, text string) {
	var se *SendError
	switch {
	case errors.As(err, &se):
		return metrics.ResultSendFailed, render.TextSendFailed
	case errors.Is(err, fetch.ErrArtifactMissing):
		return metrics.ResultMissing, render.TextFileMissing
	}
	return metrics.ResultFetchFailed, render.TextFetchFailed
}

// setStatus edits the "downloading" message to text, or sends text as a new
// message if there is nothing to edit.
func (a *App) setStatus(log zerolog.Logger, chatID int64, msgID int, text string) {
	if msgID != 0 {
		if _, err := a.api.Request(tgbotapi.NewEditMessageText(chatID, msgID, text)); err == nil {
			return
		}
	}
	a.reply(log, chatID, text, nil)
}
