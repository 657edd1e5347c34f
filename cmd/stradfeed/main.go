package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"stradfeed/internal/application/usecase/monitor"
	"stradfeed/internal/infrastructure/config"
	"stradfeed/internal/infrastructure/logger"
	"stradfeed/internal/infrastructure/svc"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer func() { _ = sc.Close() }()

	service := monitor.NewService(sc.BuildMonitorServiceDeps())

	log.Info().
		Str("config", *configPath).
		Str("feed", cfg.Feed.Source).
		Int("straddles", len(cfg.Straddles)).
		Int("print_every_min", cfg.App.PrintEveryMin).
		Msg("stradfeed started")

	if err := service.Run(ctx); err != nil {
		log.Error().Err(err).Msg("monitor service exited")
	}
}
