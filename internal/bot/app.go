package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/devzone-it/media-fetch-bot/internal/config"
	"github.com/devzone-it/media-fetch-bot/internal/fetch"
	"github.com/devzone-it/media-fetch-bot/internal/gate"
	"github.com/devzone-it/media-fetch-bot/internal/ledger"
	"github.com/devzone-it/media-fetch-bot/internal/metrics"
)

// Client is the subset of *tgbotapi.BotAPI the bot talks to.
type Client interface {
	gate.MemberLookup
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Deps struct {
	Client  Client
	Ledger  ledger.Store
	Fetcher fetch.Fetcher
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

type App struct {
	cfg     config.Config
	api     Client
	ledger  ledger.Store
	gate    *gate.Gate
	fetcher fetch.Fetcher
	workDir string
	limiter *Limiter
	m       *metrics.Metrics
	log     zerolog.Logger

	wg sync.WaitGroup
}

func New(cfg config.Config, d Deps) *App {
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &App{
		cfg:     cfg,
		api:     d.Client,
		ledger:  d.Ledger,
		gate:    gate.New(d.Client, cfg.MandatoryChannels, d.Log),
		fetcher: d.Fetcher,
		workDir: cfg.WorkDir,
		limiter: NewLimiter(cfg.RatePerMinute),
		m:       m,
		log:     d.Log.With().Str("component", "bot").Logger(),
	}
}

// Run long-polls for updates until ctx is done, then waits for in-flight
// handlers to return.
func (a *App) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := a.api.GetUpdatesChan(u)
	defer a.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			a.log.Info().Msg("update loop stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.handleUpdate(ctx, upd)
			}()
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Int("update_id", upd.UpdateID).Msg("handler panicked")
		}
	}()

	if upd.CallbackQuery != nil {
		a.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	if upd.Message != nil {
		a.handleMessage(ctx, *upd.Message)
		return
	}
}

func (a *App) handleMessage(ctx context.Context, msg tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || msg.Chat.Type != "private" {
		return
	}
	userID := msg.From.ID
	log := a.log.With().Str("req_id", uuid.NewString()).Int64("user_id", userID).Logger()
	a.ensureUser(ctx, log, *msg.From)

	if msg.IsCommand() {
		a.handleCommand(ctx, log, msg)
		return
	}
	a.handleLink(ctx, log, msg)
}

// ensureUser registers the sender. A ledger failure is logged and does not
// stop the request.
func (a *App) ensureUser(ctx context.Context, log zerolog.Logger, u tgbotapi.User) {
	created, err := a.ledger.EnsureUser(ctx, u.ID, u.UserName)
	if err != nil {
		log.Error().Err(err).Msg("register user")
		return
	}
	if created {
		a.m.Users.Inc()
		log.Info().Str("name", displayName(u)).Msg("new user")
	}
}

func (a *App) reply(log zerolog.Logger, chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) tgbotapi.Message {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = kb
	}
	sent, err := a.api.Send(msg)
	if err != nil {
		log.Warn().Err(err).Msg("send message")
	}
	return sent
}

func displayName(u tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return name
}
