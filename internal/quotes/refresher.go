package quotes

import (
	"context"
	"fmt"
	"time"

	"invest-ledger-go/internal/config"
	"invest-ledger-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Refresher periodically refreshes the cached quote on every asset with an
// open position.
type Refresher struct {
	logger *zap.Logger
	cfg    *config.Quotes
	client ClientInterface
	db     *gorm.DB
}

// NewRefresher creates a new quote refresher.
func NewRefresher(logger *zap.Logger, cfg *config.Quotes, client ClientInterface, db *gorm.DB) *Refresher {
	return &Refresher{
		logger: logger.Named("quote-refresher"),
		cfg:    cfg,
		client: client,
		db:     db,
	}
}

// Run refreshes quotes on a fixed interval until the context is cancelled.
// A failed cycle is logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) {
	interval := time.Duration(r.cfg.RefreshInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Starting quote refresh loop", zap.Duration("interval", interval))

	// Refresh once at startup so the first reads have prices.
	if err := r.refresh(ctx); err != nil {
		r.logger.Error("Initial quote refresh failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping quote refresh loop...")
			return
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				r.logger.Error("Quote refresh failed", zap.Error(err))
			}
		}
	}
}

// refresh performs a single refresh round over all open positions.
func (r *Refresher) refresh(ctx context.Context) error {
	var assets []models.Asset
	err := r.db.WithContext(ctx).
		Joins("JOIN positions ON positions.asset_id = assets.id AND positions.closed = ? AND positions.deleted_at IS NULL", false).
		Find(&assets).Error
	if err != nil {
		return fmt.Errorf("failed to list open assets: %w", err)
	}
	if len(assets) == 0 {
		return nil
	}

	failed := 0
	for _, asset := range assets {
		price, err := r.client.GetQuote(ctx, asset.Symbol)
		if err != nil {
			failed++
			r.logger.Warn("Failed to fetch quote", zap.String("symbol", asset.Symbol), zap.Error(err))
			continue
		}

		now := time.Now()
		updates := map[string]interface{}{"last_price": price, "quoted_at": now}
		if err := r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
			failed++
			r.logger.Error("Failed to store quote", zap.String("symbol", asset.Symbol), zap.Error(err))
			continue
		}

		r.logger.Debug("Quote refreshed", zap.String("symbol", asset.Symbol), zap.String("price", price.String()))
	}

	if failed > 0 {
		return fmt.Errorf("quote refresh failed for %d of %d assets", failed, len(assets))
	}
	return nil
}
