package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yoyaku/internal/audit"
	"yoyaku/internal/booking"
	"yoyaku/internal/bot"
	"yoyaku/internal/config"
	"yoyaku/internal/draft"
	"yoyaku/internal/events"
	"yoyaku/internal/gas"
	"yoyaku/internal/journal"
	"yoyaku/internal/metrics"
	"yoyaku/internal/ops"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("YOYAKU_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg)

	if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		logger.Fatal().Msg("set telegram.bot_token in config")
	}
	if err := config.CheckEndpoint(cfg.Endpoint.URL); err != nil {
		logger.Warn().Err(err).Msg("slot selection will stay disabled")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("invalid timezone")
	}

	db, err := journal.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open journal error")
	}
	defer db.Close()

	checks := map[string]ops.Check{"journal": db.PingContext}

	backups := journal.NewBackupService(db, journal.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Dir:           cfg.Backup.Dir,
		Interval:      cfg.BackupInterval(),
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)

	var drafts draft.Store = draft.NewMemoryStore(cfg.DraftTTL())
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		primary := draft.NewRedisStore(rdb, cfg.DraftTTL())
		drafts = draft.NewFailoverStore(primary, drafts, &logger)
		checks["redis"] = primary.Ping
	}

	metrics.Register()

	bus := events.NewEventBus()
	bus.Subscribe(db.Handle, events.BookingConfirmed, events.BookingConflict, events.BookingFailed, events.DaysRequested)

	client := gas.NewClient(cfg.Endpoint.URL, gas.Options{
		Timeout:       cfg.EndpointTimeout(),
		RatePerSecond: cfg.Endpoint.RatePerSecond,
		Burst:         cfg.Endpoint.Burst,
	})
	submitter := booking.NewSubmitter(client, bus, &logger)

	b, err := bot.New(cfg.Telegram.BotToken, bot.Deps{
		Slots:     client,
		Submitter: submitter,
		Drafts:    drafts,
		Bus:       bus,
	}, bot.Options{
		Managers:           cfg.Managers,
		ContactMethods:     cfg.Booking.ContactMethods,
		EndpointConfigured: cfg.EndpointConfigured(),
		Location:           loc,
		RequestTimeout:     cfg.EndpointTimeout(),
		DialogTTL:          cfg.DialogTTL(),
		UserRate:           cfg.Booking.UserRateLimit,
		UserBurst:          cfg.Booking.UserBurst,
		Debug:              cfg.Telegram.Debug,
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}
	bus.Subscribe(b.HandleEvent, events.BookingConfirmed, events.DaysRequested)

	reports := audit.NewService(audit.Config{}, db, db, b, &logger)
	b.SetAudit(reports)
	reports.Start()
	defer reports.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go backups.Start(ctx)
	b.StartReminders(ctx, db)

	router := ops.NewRouter(ops.Options{Checks: checks, Metrics: cfg.Monitoring.PrometheusEnabled})
	go ops.Serve(ctx, cfg.Monitoring.Port, router, &logger)

	logger.Info().Bool("endpoint_configured", cfg.EndpointConfigured()).Msg("bot started")
	b.Start(ctx)
	logger.Info().Msg("bot stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Log.JSON {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
