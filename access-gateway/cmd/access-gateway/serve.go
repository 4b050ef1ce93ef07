package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/privateness-network/bot-access/access-gateway/internal/access"
	"github.com/privateness-network/bot-access/access-gateway/internal/api"
	"github.com/privateness-network/bot-access/access-gateway/internal/catalog"
	"github.com/privateness-network/bot-access/access-gateway/internal/chain"
	"github.com/privateness-network/bot-access/access-gateway/internal/entitlement"
	"github.com/privateness-network/bot-access/access-gateway/internal/telegram"
	"github.com/privateness-network/bot-access/internal/httpclient"
	"github.com/privateness-network/bot-access/internal/jobs"
	"github.com/privateness-network/bot-access/internal/publisher"
	"github.com/privateness-network/bot-access/internal/rate"
	"github.com/privateness-network/bot-access/internal/store"
	"github.com/privateness-network/bot-access/pkg/eventbus"
	"github.com/privateness-network/bot-access/pkg/logger"
	"github.com/privateness-network/bot-access/pkg/model"
	"github.com/privateness-network/bot-access/pkg/utils"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the reservation sweeper and the Telegram bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	// --- Load configuration ---
	cfg, _, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)

	// --- Product table ---
	cat, err := catalog.LoadFile(cfg.ProductsFile, cfg.AccessPeriod)
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	logg.Infow("products loaded", "file", cfg.ProductsFile, "count", cat.Len())

	// --- Ledger store ---
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		AutoMigrate: cfg.AutoMigrate,
		Pool: store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		},
	}, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logg.Warnw("store.close_failed", "error", err)
		}
	}()

	checks := map[string]api.HealthChecker{"store": st}
	stopCleaner := make(chan struct{})
	defer close(stopCleaner)

	// --- Chain observer (node client + tx cache) ---
	chainRate := rate.NewManager(rate.PerSecond(cfg.ChainRatePerSec, cfg.ChainBurst))
	nodeExec := httpclient.New(logger.Named("node"), chainRate, &http.Client{Timeout: cfg.ChainTimeout}, cfg.ChainRetryMax, "node", nil)
	nodeClient := chain.NewClient(cfg.NodeURL, nodeExec, cfg.ChainTimeout, logger.Named("chain"))

	var txCache chain.TxCache
	if cfg.RedisAddr != "" {
		rc, err := store.NewRedisCache(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.ServiceName+":", logger.Named("redis"))
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		checks["redis"] = rc
		txCache = chain.NewRedisTxCache(rc, cfg.ChainCacheTTL, logger.Named("chain"))
	} else {
		mem := chain.NewMemoryTxCache(cfg.ChainCacheTTL)
		go mem.StartCleaner(time.Minute, stopCleaner)
		txCache = mem
	}
	observer := chain.NewCachedObserver(nodeClient, txCache)

	// --- Event bus and sinks ---
	bus := eventbus.New[model.AccessEvent]()

	var sinks []publisher.Sink
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		np, err := publisher.NewNATS(nc, cfg.ServiceName, logger.Named("nats"))
		if err != nil {
			nc.Close()
			return fmt.Errorf("init nats publisher: %w", err)
		}
		sinks = append(sinks, np)
		checks["nats"] = np
	}
	if cfg.AMQPURL != "" {
		ap, err := publisher.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger.Named("amqp"))
		if err != nil {
			return fmt.Errorf("init amqp publisher: %w", err)
		}
		sinks = append(sinks, ap)
		checks["amqp"] = ap
	}

	var tg *telegram.Client
	if cfg.TelegramBotToken != "" {
		tg = telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken,
			&http.Client{Timeout: cfg.TelegramPollTimeout + 10*time.Second}, 1, logger.Named("telegram"))
		if cfg.NotifyGrants {
			sinks = append(sinks, telegram.NewNotifier(tg, cat, cfg.TelegramAdminChatID, logger.Named("telegram")))
		}
	}
	for _, s := range sinks {
		publisher.Attach(bus, s, cfg.EventPublishTimeout, logger.Named("publisher"))
	}
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logg.Warnw("publisher.close_failed", "sink", s.Name(), "error", err)
			}
		}
	}()
	// In-flight deliveries finish before the sinks close.
	defer bus.Wait()

	// --- Entitlement engine and access gateway ---
	engine := entitlement.NewEngine(logger.Named("entitlement"), cat, st, observer, bus, entitlement.Options{
		MinConfirmations: cfg.MinConfirmations,
		RenewalPolicy:    cfg.RenewalPolicy,
	})
	gateway := access.NewGateway(logger.Named("access"), cat, engine, st, observer, cfg.BalanceTimeout)

	// --- Background jobs ---
	var throttle *rate.Manager
	pruners := []jobs.Pruner{chainRate}
	if cfg.VerifyRatePerMin > 0 {
		throttle = rate.NewManager(rate.PerMinute(cfg.VerifyRatePerMin))
		pruners = append(pruners, throttle)
	}
	sweeper := jobs.NewReservationSweeper(logger.Named("sweeper"), st, bus, cfg.SweepInterval, cfg.ReservationTTL, pruners...)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	if cfg.TelegramPolling && tg != nil {
		bot := telegram.NewBot(tg, engine, cat, cfg.WebAppURL, cfg.TelegramPollTimeout, logger.Named("telegram"))
		go bot.Run(ctx)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))

	api.RegisterRoutes(app, api.Routes{
		Access:          api.NewAccessHandler(logger.Named("api"), gateway, cat, throttle),
		Admin:           api.NewAdminHandler(logger.Named("admin"), engine),
		AdminToken:      cfg.AdminToken,
		RequireInitData: cfg.RequireInitData,
		BotToken:        cfg.TelegramBotToken,
		InitDataMaxAge:  cfg.InitDataMaxAge,
		Checks:          checks,
	})

	listenErr := make(chan error, 1)
	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	logg.Infow(fmt.Sprintf("[%s] running", cfg.ServiceName),
		"env", cfg.Env,
		"store", cfg.StoreDriver,
		"node", cfg.NodeURL,
		"redis", cfg.RedisAddr != "",
		"sinks", len(sinks),
		"admin", cfg.AdminToken != "",
		"telegram_bot", utils.MaskToken(cfg.TelegramBotToken))

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
	}
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	return nil
}
