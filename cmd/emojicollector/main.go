package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"luxon_pay_bot/internal/config"
	"luxon_pay_bot/internal/emoji"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/store"
	"luxon_pay_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(config.ServiceEmojiCollector)
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	err = mongoManager.EnsureIndexes(indexCtx)
	cancelIndexes()
	if err != nil {
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	handler, err := emoji.NewHandler(tgClient, emoji.NewStore(mongoManager.PremiumEmojis(), logger), logger)
	if err != nil {
		logger.WithError(err).Error("emoji handler setup error")
		fmt.Fprintf(os.Stderr, "emoji handler setup error: %v\n", err)
		os.Exit(1)
	}
	tgClient.SetHandler(handler)

	logger.WithField("event", "telegram_ready").Info("emoji collector started")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tgDone := make(chan struct{})
	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
	}
	cancelTelegram()

	select {
	case <-tgDone:
	case <-time.After(telegramShutdownTimeout):
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	}
	cancelShutdown()
}
