package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/devzone-it/media-fetch-bot/internal/bot"
	"github.com/devzone-it/media-fetch-bot/internal/config"
	"github.com/devzone-it/media-fetch-bot/internal/fetch"
	"github.com/devzone-it/media-fetch-bot/internal/janitor"
	"github.com/devzone-it/media-fetch-bot/internal/ledger"
	"github.com/devzone-it/media-fetch-bot/internal/logger"
	"github.com/devzone-it/media-fetch-bot/internal/metrics"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", config.DefaultConfigPath(), "path to config.json")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", *cfgPath).Msg("config error")
	}

	log, closer, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		zlog.Fatal().Err(err).Msg("logger init error")
	}
	defer closer.Close()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("bot stopped with error")
		closer.Close()
		os.Exit(1)
	}
	log.Info().Msg("bye")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.DataDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	if err := fetch.EnsureBinary(ctx, cfg.InstallYtdlp, log); err != nil {
		return err
	}

	store, err := ledger.Open(ctx, cfg.LedgerBackend, cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close ledger")
		}
	}()

	// Uploads of large files can take minutes.
	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Minute})
	if err != nil {
		return err
	}
	api.Debug = cfg.Debug
	log.Info().Str("username", api.Self.UserName).Strs("channels", cfg.MandatoryChannels).
		Str("ledger", cfg.LedgerBackend).Msg("bot authorized")

	opts := fetch.Options{
		WorkDir:       cfg.WorkDir,
		MaxFileSize:   cfg.MaxFileSizeBytes(),
		CookiesFile:   cfg.CookiesFile,
		MaxConcurrent: int64(cfg.MaxConcurrentDownloads),
	}
	fetcher := fetch.New(opts, fetch.NewYtdlpEngine(opts), log)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	j := janitor.New(cfg.WorkDir, cfg.ArtifactMaxAge(), 0, log)
	j.Start()
	defer j.Stop()

	app := bot.New(cfg, bot.Deps{
		Client:  api,
		Ledger:  store,
		Fetcher: fetcher,
		Metrics: m,
		Log:     log,
	})
	return app.Run(ctx)
}
