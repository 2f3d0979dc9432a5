package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/napryag/salon_bot/pkg/domain/bot/receiver"
	"github.com/napryag/salon_bot/pkg/domain/bot/receiver/config"
	"github.com/napryag/salon_bot/pkg/domain/bot/sender"
	"github.com/napryag/salon_bot/pkg/repository/api"
	"github.com/napryag/salon_bot/pkg/repository/cache"
	"github.com/napryag/salon_bot/pkg/repository/store"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

func main() {
	// 1) Логгер
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	// 2) Загружаем конфиг
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Err(errs.New("failed to load config").Wrap(err)).Msg("config init")
		return
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	// Контекст, завершающийся по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3) Postgres: сохранённые токены пользователей
	repo, err := store.NewRepo(ctx, cfg.PostgresAddr)
	if err != nil {
		logger.Error().Err(err).Msg("postgres init")
		return
	}
	defer repo.Close()
	if err = repo.Migrate(ctx, logger); err != nil {
		logger.Error().Err(err).Msg("migrations")
		return
	}

	// 4) Redis: кэш каталога, без него работаем напрямую с бэкендом
	var catalog *cache.Catalog
	rdb, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, catalog cache disabled")
	} else {
		defer rdb.Close()
		catalog = cache.NewCatalog(rdb, cfg.Redis.CatalogTTL, logger)
	}

	transport, err := api.NewTransport(cfg.API, nil, logger)
	if err != nil {
		logger.Error().Err(err).Msg("api client init")
		return
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("create bot api")
		return
	}
	bot.Debug = false
	logger.Info().Str("bot", bot.Self.UserName).Msg("authorized")

	opts := receiver.Options{
		Backend:     receiver.NewBackend(transport, catalog),
		Creds:       repo,
		Location:    cfg.Location,
		BookingDays: cfg.BookingDays,
		Timeout:     cfg.API.Timeout,
		Logger:      logger,
	}
	if cfg.ChannelID != "" {
		notifier, err := sender.New(sender.ProcessorConfig{ChannelID: cfg.ChannelID}, logger, bot)
		if err != nil {
			logger.Error().Err(err).Msg("sender init")
			return
		}
		opts.Notifier = notifier
	}
	handler := receiver.NewHandler(bot, opts)

	// 5) Периодически забываем неактивные сессии
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		logger.Error().Err(err).Msg("scheduler init")
		return
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Session.SweepInterval),
		gocron.NewTask(func() {
			if n := handler.Store().Sweep(cfg.Session.IdleTTL); n > 0 {
				logger.Info().Int("sessions", n).Int("active", handler.Store().Len()).Msg("idle sessions swept")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error().Err(err).Msg("schedule session sweep")
		return
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("scheduler shutdown")
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 10
	updates := bot.GetUpdatesChan(u)

	// Горутина для корректного завершения
	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down bot")
		// Останавливаем лонг-поллинг -> канал updates закроется, цикл ниже завершится
		bot.StopReceivingUpdates()
	}()

	for update := range updates {
		uctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		handler.Handle(uctx, update)
		cancel()
	}
	logger.Info().Msg("bot stopped")
}
