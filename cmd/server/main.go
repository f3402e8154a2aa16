package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/health-analytics-server/internal/analysis"
	"github.com/health-analytics-server/internal/api"
	"github.com/health-analytics-server/internal/config"
	"github.com/health-analytics-server/internal/domain"
	"github.com/health-analytics-server/internal/features"
	"github.com/health-analytics-server/internal/inference"
	"github.com/health-analytics-server/internal/predcache"
	"github.com/health-analytics-server/internal/store"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
		"mode": cfg.Backend.Mode,
	}).Info("Starting health analytics server")

	normalizer := features.NewNormalizer()
	local := inference.NewLocalBackend(logger, normalizer, cfg.Analysis)

	var primary, secondary inference.Backend
	var trainer inference.Trainer
	switch cfg.Backend.Mode {
	case "remote":
		primary = inference.NewRemoteBackend(logger, cfg.Remote)
		secondary = local
		trainer = local
	default:
		primary = local
		trainer = local
		if cfg.Backend.RemoteFallback && len(cfg.Remote.Credentials) > 0 {
			secondary = inference.NewRemoteBackend(logger, cfg.Remote)
		}
	}

	cache, err := predcache.New(logger, cfg.Cache)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize prediction cache")
	}

	st, err := newStore(cfg.Store)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize assessment store")
	}
	defer st.Close()

	analyzer := analysis.NewAnalyzer(
		logger,
		primary,
		secondary,
		analysis.NewRuleEngine(logger),
		cache,
		analysis.NewAggregator(cfg.Analysis.Weights),
	)

	server := api.NewServer(cfg, logger, analyzer, cache, st, trainer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func newStore(cfg domain.StoreConfig) (store.Store, error) {
	if cfg.Driver == "postgres" {
		return store.NewPostgresStore(context.Background(), cfg.DSN)
	}
	return store.NewSQLiteStore(cfg.Path)
}
