package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"guildwarden/internal/analytics"
	"guildwarden/internal/banqueue"
	"guildwarden/internal/bot"
	"guildwarden/internal/clock"
	"guildwarden/internal/config"
	"guildwarden/internal/discord"
	"guildwarden/internal/moderation"
	"guildwarden/internal/modules/antiraid"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/modules/lockdown"
	"guildwarden/internal/modules/punish"
	"guildwarden/internal/modules/slowmode"
	"guildwarden/internal/settings"
	"guildwarden/internal/storage"
	"guildwarden/internal/storage/bolt"
	"guildwarden/internal/storage/postgres"
	"guildwarden/internal/storage/sqlite"
	"guildwarden/internal/web"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("storage init failed", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	defaults, fieldErrs := cfg.GuildDefaults()
	for _, fieldErr := range fieldErrs {
		logger.Warn("guild default fallback", zap.String("field", fieldErr.Field), zap.Error(fieldErr.Err))
	}
	repo := settings.NewCached(
		storage.NewSettingsRepository(store, defaults, logger),
		cfg.SettingsCache.Size,
		cfg.SettingsCache.TTL,
	)

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discord session init failed", zap.Error(err))
	}
	api := discord.NewSession(session)
	clk := clock.Real()

	auditLogger := audit.NewLogger(store, logger, clk)
	slow := slowmode.New(api, repo, auditLogger, logger, clk, cfg.Moderation.SlowmodeSpacing)
	lock := lockdown.New(api, auditLogger, logger, clk, nil, cfg.Moderation.LockdownSpacing)
	moderationSvc := moderation.New(moderation.Deps{
		Settings:     repo,
		Raid:         antiraid.New(cfg.Moderation.JoinLogCapacity),
		Punisher:     punish.New(api, auditLogger, logger, clk),
		Slowmode:     slow,
		Lockdown:     lock,
		Audit:        auditLogger,
		Logger:       logger,
		Clock:        clk,
		MuteDuration: time.Duration(cfg.Moderation.MuteSeconds) * time.Second,
	})

	linker := web.NewLinker(web.OAuthConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
	}, store, logger)

	botSvc := bot.New(bot.Deps{
		Config:     cfg,
		Logger:     logger,
		Session:    session,
		API:        api,
		Settings:   repo,
		Moderation: moderationSvc,
		Lockdown:   lock,
		Analytics:  analytics.New(store),
		Audit:      auditLogger,
		Store:      store,
		Linker:     linker,
		Clock:      clk,
	})
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	defer botSvc.Close()
	logger.Info("bot started")

	queue := banqueue.NewQueue(cfg.BanQueue.Size)
	worker := banqueue.NewWorker(queue, store, api, rate.NewLimiter(rate.Every(cfg.BanQueue.Spacing), 1), auditLogger, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return botSvc.RunMaintenance(gctx, 24*time.Hour) })
	if cfg.HTTP.Enabled {
		var events *web.EventSubController
		if cfg.Twitch.EventSubSecret != "" {
			events = web.NewEventSubController(cfg.Twitch.EventSubSecret, queue, logger)
		}
		server := web.NewServer(cfg.HTTP.Addr, linker, events, logger)
		g.Go(func() error { return server.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", zap.Error(err))
		return
	}
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "postgres":
		return postgres.Connect(ctx, cfg.DSN)
	case "bolt":
		return bolt.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
