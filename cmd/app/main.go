// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shopee-video-bot/internal/application"
	"shopee-video-bot/internal/config"
	"shopee-video-bot/internal/domain/ports/adapter"
	"shopee-video-bot/internal/domain/ports/repository"
	payAdapters "shopee-video-bot/internal/infra/adapters/payment"
	tele "shopee-video-bot/internal/infra/adapters/telegram"
	"shopee-video-bot/internal/infra/api"
	"shopee-video-bot/internal/infra/cache"
	pg "shopee-video-bot/internal/infra/db/postgres"
	"shopee-video-bot/internal/infra/i18n"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/infra/metrics"
	red "shopee-video-bot/internal/infra/redis"
	"shopee-video-bot/internal/infra/resolver"
	"shopee-video-bot/internal/infra/sched"
	"shopee-video-bot/internal/infra/worker"
	"shopee-video-bot/internal/usecase"

	"golang.org/x/sync/errgroup"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop payments, console logs)")
	flag.Parse()

	if err := run(*cfgPath, *devMode); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath string, dev bool) error {
	cfg, err := config.LoadConfig(cfgPath, dev)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	var entRepo repository.EntitlementRepository = pg.NewEntitlementRepo(pool)
	txm := pg.NewTxManager(pool)

	// ---- Redis (optional) ----
	var (
		orders      repository.PendingOrderRepository
		locker      repository.UserLocker
		rateLimiter tele.RateLimiter
		healthOpts  = []api.ServerOption{api.WithHealthCheck("postgres", pool)}
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		entRepo = pg.NewEntitlementRepoCacheDecorator(entRepo, rc, cfg.Redis.TTL)
		orders = red.NewPendingOrderStore(rc, cfg.Payment.PendingTTL)
		rateLimiter = red.NewRateLimiter(rc)
		if cfg.Quota.StrictPerUser {
			locker = red.NewLocker(rc, cfg.Quota.LockTTL)
		}
		healthOpts = append(healthOpts, api.WithHealthCheck("redis", rc))
		logger.Info().Str("addr", cfg.Redis.URL).Msg("redis enabled")
	} else {
		orders = cache.NewPendingOrders(cfg.Payment.PendingCapacity, cfg.Payment.PendingTTL)
		if cfg.Quota.StrictPerUser {
			locker = usecase.NewInProcessLocker()
		}
		logger.Warn().Msg("redis disabled; pending orders are kept in memory")
	}

	// ---- Resolver ----
	if err := os.MkdirAll(cfg.Resolver.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	session, err := resolver.NewSession(resolver.SessionConfig{
		RequestTimeout: cfg.Resolver.RequestTimeout,
		ProxyURL:       cfg.Resolver.ProxyURL,
	})
	if err != nil {
		return fmt.Errorf("resolver session: %w", err)
	}
	defer session.CloseIdleConnections()
	strategies, err := resolver.BuildStrategies(session, cfg.Resolver.Strategies)
	if err != nil {
		return err
	}
	orch, err := resolver.NewOrchestrator(session, cfg.Resolver.OutputDir, logger, strategies,
		resolver.WithAttemptTimeout(cfg.Resolver.DownloadTimeout))
	if err != nil {
		return err
	}

	// ---- Use cases ----
	entUC := usecase.NewEntitlementUseCase(entRepo, txm, logger,
		usecase.WithDailyLimit(cfg.Quota.DailyLimit),
		usecase.WithSettledPayments(pg.NewSettledPaymentRepo(pool)))
	var gateOpts []usecase.GateOption
	if locker != nil {
		gateOpts = append(gateOpts, usecase.WithUserLocker(locker))
	}
	gate := usecase.NewAccessGate(entUC, orch, logger, gateOpts...)

	gateway, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Locale)
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	downloads := worker.NewPool(cfg.Bot.Downloads, cfg.Bot.Downloads*8, logger)
	facade := application.NewBotFacade(entUC, gate, nil, orch, downloads, tr, logger,
		application.WithSupportURL(cfg.Bot.SupportURL),
		application.WithDownloadTimeout(cfg.Resolver.DownloadTimeout+time.Minute))
	payUC := usecase.NewPaymentUseCase(orders, gateway, entUC, cfg.Payment.PriceCents, cfg.Quota.PremiumDays, logger,
		usecase.WithSettlementHook(facade.NotifySettled))
	facade.Payments = payUC

	// ---- Telegram ----
	bot, err := tele.NewRealTelegramBotAdapter(&cfg.Bot, facade, rateLimiter, tr, logger)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	facade.AttachBot(bot)

	// ---- HTTP ----
	auth := api.NewAuthManager(cfg.HTTP.AdminJWTSecret, time.Hour)
	srvOpts := healthOpts
	if strings.EqualFold(cfg.Bot.Mode, "webhook") {
		srvOpts = append(srvOpts, api.WithTelegramWebhook(http.HandlerFunc(bot.HandleWebhook)))
	}
	server := api.NewServer(entUC, payUC, auth, logger, srvOpts...)

	// ---- Background ----
	janitor := sched.NewOutputJanitor(cfg.Resolver.OutputDir, cfg.Scheduler.FileMaxAge, cfg.Scheduler.JanitorInterval, logger)
	reconciler := sched.NewPaymentReconciler(payUC, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.ReconcileStaleAfter, logger)

	downloads.Start(ctx)
	defer downloads.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Start(gctx) })
	g.Go(func() error { return server.Run(gctx, cfg.HTTP.Port) })
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		pg.ReportPoolStats(gctx, pool, 15*time.Second, logger)
		return nil
	})

	logger.Info().Str("version", version).Str("mode", cfg.Bot.Mode).Int("port", cfg.HTTP.Port).Msg("bot started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

func newGateway(cfg *config.Config) (adapter.PaymentGateway, error) {
	switch strings.ToLower(cfg.Payment.Provider) {
	case "noop":
		return payAdapters.NewNoopPaymentGateway(cfg.Runtime.Dev), nil
	default:
		return payAdapters.NewPushinPayGateway(cfg.Payment.APIToken, cfg.Payment.BaseURL, cfg.Payment.WebhookURL)
	}
}
