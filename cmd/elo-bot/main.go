package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/elo-ladder-bot/internal/botbuilder"
	appcfg "github.com/park285/elo-ladder-bot/internal/config"
	"github.com/park285/elo-ladder-bot/internal/obslog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger, closeLog, err := obslog.New(obslog.OptionsFromEnv())
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = closeLog() }()

	if err := run(logger); err != nil {
		logger.Error("bot_exit", zap.Error(err))
		_ = closeLog()
		log.Fatalf("bot error: %v", err)
	}
}

func run(logger *zap.Logger) error {
	cfg, err := appcfg.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	bot, err := botbuilder.New(bctx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if bot.WS != nil {
		cctx, ccancel := context.WithTimeout(gctx, 10*time.Second)
		err := bot.WS.Connect(cctx)
		ccancel()
		if err != nil {
			_ = bot.Close(context.Background())
			return err
		}
	}
	if bot.Webhook != nil {
		g.Go(func() error { return bot.Webhook.ListenAndServe() })
	}
	bot.Scheduler.Start()

	logger.Info("bot_started",
		zap.String("prefix", cfg.BotPrefix),
		zap.Bool("ws", bot.WS != nil),
		zap.Bool("webhook", bot.Webhook != nil),
		zap.String("egress", cfg.EgressMode),
	)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("bot_stopping")
		sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer scancel()
		return bot.Close(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
