// Command rebuild replays every asset's transaction log and overwrites the
// stored position rows. Useful after restoring a database backup or whenever
// a position summary is suspected stale.
package main

import (
	"context"
	"fmt"
	"os"

	"invest-ledger-go/internal/config"
	"invest-ledger-go/internal/database"
	"invest-ledger-go/internal/logger"
	"invest-ledger-go/internal/portfolio"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	svc := portfolio.NewService(db, log, cfg.Ledger.AllowShort)
	if err := svc.ReconcileAll(context.Background()); err != nil {
		log.Fatal("Rebuild failed", zap.Error(err))
	}

	log.Info("All positions rebuilt from the transaction log.")
}
