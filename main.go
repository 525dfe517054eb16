package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stash/config"
	"stash/logger"
	"stash/metrics"
	"stash/server"
	"stash/upload"

	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stash: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("STASH_CONFIG"))
	if err != nil {
		return err
	}

	log := logger.New(&logger.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON, Output: os.Stdout})
	logger.SetDefault(log)
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create context with timeout for initial connection
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := server.OpenStore(openCtx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	binder, err := upload.NewBinder(cfg.Storage.UploadsDir, store, upload.Options{
		MaxFileSize: cfg.Upload.MaxFileSize,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	router := server.NewRouter(server.Deps{
		Config:  cfg,
		Store:   store,
		Binder:  binder,
		Metrics: m,
		Logger:  log,
	})

	return server.Run(ctx, cfg, router, log)
}
