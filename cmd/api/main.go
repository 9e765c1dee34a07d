package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kurihiro0119/github-repo-activity/internal/api"
	"github.com/kurihiro0119/github-repo-activity/internal/config"
	"github.com/kurihiro0119/github-repo-activity/internal/storage"
	"github.com/kurihiro0119/github-repo-activity/internal/storage/document"
	"github.com/kurihiro0119/github-repo-activity/internal/storage/postgres"
	"github.com/kurihiro0119/github-repo-activity/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := cfg.ValidateStorage(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
	case "document":
		store, err = document.NewDocumentStorage(cfg.DataDir)
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
	if err != nil {
		logger.Error("failed to initialize storage", "type", cfg.StorageType, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store)

	// Setup routes
	router := api.SetupRoutes(handler, logger)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	logger.Info("starting API server", "addr", addr, "storage", cfg.StorageType)

	if err := router.Run(addr); err != nil {
		logger.Error("server stopped", "error", err)
		store.Close()
		os.Exit(1)
	}
}
