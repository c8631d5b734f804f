package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	cfgPath := flag.String("config", os.Getenv("CHATSYNC_CONFIG"), "path to YAML config")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "pebble directory (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Address = *addr
		cfg.Server.Port = 0
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}

	logger.InitWith(cfg.Logging.Level, cfg.Logging.Format)

	a, err := app.New(cfg, version, commit, buildDate)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("chatsync_stopped")
}
