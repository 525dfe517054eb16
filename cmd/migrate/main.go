package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"stash/config"
	"stash/database"
	"stash/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nAll migrations completed!")
}

func run() error {
	cfg, err := config.Load(os.Getenv("STASH_CONFIG"))
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL not set")
	}

	log := logger.New(&logger.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON, Output: os.Stdout})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database.URL, database.PoolConfig{MaxConns: 2, MinConns: 1}, log)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Migrate(ctx)
}
