package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"luxon_pay_bot/internal/config"
	"luxon_pay_bot/internal/feature/group"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/moderation"
	"luxon_pay_bot/internal/store"
	"luxon_pay_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	wordsBootstrapTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load(config.ServiceModerator)
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
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":     "startup",
		"mongo_db":  cfg.MongoDB,
		"bot_owner": cfg.BotOwnerID,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		fatal(logger, "mongo connection error", err)
	}

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	err = mongoManager.EnsureIndexes(indexCtx)
	cancelIndexes()
	if err != nil {
		fatal(logger, "mongo index setup error", err)
	}

	words := moderation.NewWordStore(mongoManager.ForbiddenWords(), logger)
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), wordsBootstrapTimeout)
	_, err = words.Seed(seedCtx, moderation.DefaultWords)
	cancelSeed()
	if err != nil {
		fatal(logger, "forbidden words bootstrap error", err)
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		fatal(logger, "telegram client setup error", err)
	}

	handler, err := moderation.NewHandler(tgClient, words, group.NewRegistrar(mongoManager.Groups(), logger), moderation.Config{
		OwnerID:      cfg.BotOwnerID,
		WarningDelay: cfg.WarningDeleteAfter,
		SkipAdmins:   true,
	}, logger)
	if err != nil {
		fatal(logger, "moderation handler setup error", err)
	}

	reloadCtx, cancelReload := context.WithTimeout(context.Background(), wordsBootstrapTimeout)
	err = handler.Reload(reloadCtx)
	cancelReload()
	if err != nil {
		fatal(logger, "forbidden words load error", err)
	}
	tgClient.SetHandler(handler)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})
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

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func fatal(logger *logrus.Entry, msg string, err error) {
	logger.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
