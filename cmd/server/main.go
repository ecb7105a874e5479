package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"invest-ledger-go/internal/api"
	"invest-ledger-go/internal/config"
	"invest-ledger-go/internal/database"
	"invest-ledger-go/internal/logger"
	"invest-ledger-go/internal/portfolio"
	"invest-ledger-go/internal/quotes"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	svc := portfolio.NewService(db, log, cfg.Ledger.AllowShort)

	// Positions are derived state; rebuild them from the transaction log so
	// any divergence left by a previous crash is repaired before serving.
	if err := svc.ReconcileAll(ctx); err != nil {
		log.Fatal("Failed to reconcile positions at startup", zap.Error(err))
	}

	if cfg.Quotes.Enabled {
		client := quotes.NewClient(&cfg.Quotes, log)
		refresher := quotes.NewRefresher(log, &cfg.Quotes, client, db)
		go refresher.Run(ctx)
	} else {
		log.Info("Quote refresher disabled")
	}

	server := api.NewServer(cfg.Server.Port, api.NewHandler(log, svc), log)
	server.Start()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server cleanly", zap.Error(err))
	}

	log.Info("Server has been shut down.")
}
