package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sinalbot/signals/service"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt, syscall.SIGTERM}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)
	defer signal.Stop(interrupt)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Error().Msgf("loading config: %v", err)
		os.Exit(1)
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	timeframes, err := cfg.ParsedTimeframes()
	if err != nil {
		log.Error().Msgf("parsing timeframes: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.NewService(&service.ServiceConfig{
		Markets:              cfg.Pairs,
		Timeframes:           timeframes,
		TelegramToken:        cfg.TelegramToken,
		TelegramChatID:       cfg.TelegramChatID,
		Email:                cfg.Email,
		Password:             cfg.Password,
		SSID:                 cfg.SSID,
		WSURL:                cfg.WSURL,
		AuthURL:              cfg.AuthURL,
		StatusAddress:        cfg.StatusAddress,
		Backtest:             cfg.Backtest,
		BacktestDataFilepath: cfg.BacktestDataFilepath,
		ReportFilePath:       cfg.ReportFilePath,
		Cancel:               cancel,
	})
	if err != nil {
		log.Error().Msgf("creating signal service: %v", err)
		os.Exit(1)
	}

	go handleTermination(ctx, cancel)
	svc.Run(ctx)
}
