package main

import (
	"log"
	"os"

	"github.com/seantiz/lakerun/internal/api"
	"github.com/seantiz/lakerun/internal/config"
	"github.com/seantiz/lakerun/internal/engine"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/poll"
	"github.com/seantiz/lakerun/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger.Info("lakerun: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"platform_host", cfg.PlatformHost,
	)

	history, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer history.Close()

	client := platform.NewClient(platform.Config{
		Host:    cfg.PlatformHost,
		Token:   cfg.Token,
		Timeout: cfg.HTTPTimeout,
	})

	eng := engine.New(client, cfg.WarehouseID, logger)
	pollOpts := poll.Options{Interval: cfg.PollInterval, MaxWait: cfg.MaxWait}
	srv := api.NewServer(cfg.ListenAddr, eng, client, history, pollOpts, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
