package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/backend"
	"luxon_pay_bot/internal/config"
	"luxon_pay_bot/internal/countdown"
	"luxon_pay_bot/internal/domain"
	"luxon_pay_bot/internal/feature/user"
	"luxon_pay_bot/internal/flow"
	"luxon_pay_bot/internal/guard"
	"luxon_pay_bot/internal/health"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/pending"
	"luxon_pay_bot/internal/referral"
	"luxon_pay_bot/internal/session"
	"luxon_pay_bot/internal/settings"
	"luxon_pay_bot/internal/store"
	"luxon_pay_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	redisConnectTimeout     = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
	limiterSweepInterval    = time.Minute
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load(config.ServicePaymentBot)
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":         "startup",
		"mongo_db":      cfg.MongoDB,
		"pending_store": cfg.PendingStore,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		fatal(logger, "mongo connection error", err)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	err = mongoManager.EnsureIndexes(indexCtx)
	cancelIndexes()
	if err != nil {
		fatal(logger, "mongo index setup error", err)
	}

	logger.WithField("event", "mongo_indexes").Info("ensured mongo indexes")

	pendingStore, closePending, err := openPendingStore(cfg, logger)
	if err != nil {
		fatal(logger, "pending store setup error", err)
	}

	api, err := backend.NewClient(cfg.APIURL, logger)
	if err != nil {
		fatal(logger, "backend client setup error", err)
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		fatal(logger, "telegram client setup error", err)
	}

	sessions := session.NewRegistry()
	timers := countdown.NewManager(logger)
	engine, err := flow.NewEngine(flow.Deps{
		Transport: tgClient,
		Backend:   api,
		Settings:  settings.NewCache(api, cfg.SettingsTTL, logger),
		Sessions:  sessions,
		Pending:   pendingStore,
		Timers:    timers,
		Logger:    logger,
	},
		flow.WithDepositTimeout(cfg.DepositTimeout),
		flow.WithLinks(cfg.WebsiteURL, cfg.SupportURL),
		flow.WithRequestLog(domain.NewRequestLog(mongoManager.Requests())),
	)
	if err != nil {
		fatal(logger, "dialog engine setup error", err)
	}

	limiter := guard.NewLimiter(cfg.RateLimitWindow, cfg.RateLimitMax, cfg.RateLimitBlock)
	router, err := telegram.NewRouter(telegram.RouterDeps{
		Dialog:    engine,
		Messenger: tgClient,
		Limiter:   limiter,
		Users:     user.NewRegistrar(mongoManager.Users(), logger),
		Referrals: referral.NewService(api, referral.Policy{
			Attempts: cfg.ReferralAttempts,
			Delay:    cfg.ReferralDelay,
		}, logger),
		Chat:   api,
		Logger: logger,
	})
	if err != nil {
		fatal(logger, "router setup error", err)
	}
	tgClient.SetHandler(router)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, health.Deps{
		Mongo:   mongoManager,
		Backend: api,
		Stats:   store.NewStatsProvider(mongoManager.Users(), mongoManager.Requests()),
		Gauges: func() map[string]int {
			return map[string]int{
				"sessions": sessions.Len(),
				"timers":   timers.Len(),
			}
		},
	}, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).WithField("event", "health_server_error").Error("health server stopped")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go sweepLimiter(telegramCtx, limiter, logger)
	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	closePending()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

// openPendingStore returns the configured store and its release func.
func openPendingStore(cfg config.Config, logger *logrus.Entry) (pending.Store, func(), error) {
	if cfg.PendingStore != config.PendingStoreRedis {
		fs, err := pending.OpenFile(cfg.PendingStateFile, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.WithFields(logging.Fields{
			"event":   "pending_store_ready",
			"backend": config.PendingStoreFile,
			"records": fs.Len(),
		}).Info("pending store loaded")
		return fs, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.WithFields(logging.Fields{
		"event":   "pending_store_ready",
		"backend": config.PendingStoreRedis,
	}).Info("pending store connected")

	return pending.NewRedisStore(client, "", logger), func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("redis close error")
		}
	}, nil
}

func sweepLimiter(ctx context.Context, limiter *guard.Limiter, logger *logrus.Entry) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				logger.WithFields(logging.Fields{
					"event":   "rate_limit_sweep",
					"removed": n,
				}).Debug("dropped idle rate limit entries")
			}
		}
	}
}

func fatal(logger *logrus.Entry, msg string, err error) {
	logger.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
