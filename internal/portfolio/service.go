// Package portfolio is the write boundary around the ledger engine: every
// transaction mutation and the recompute-and-overwrite of the owning
// position happen inside a single database transaction, serialized per
// asset.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"invest-ledger-go/internal/ledger"
	"invest-ledger-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrOversell indicates a mutation that would sell more than the open
	// lots while short positions are disallowed.
	ErrOversell = errors.New("sell exceeds open position")
	// ErrAssetNotFound indicates an unknown asset symbol.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrTransactionNotFound indicates an unknown transaction reference id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidInput indicates a malformed mutation request.
	ErrInvalidInput = errors.New("invalid transaction input")
)

// TransactionInput is a request to record one buy or sell.
type TransactionInput struct {
	Symbol    string
	Side      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TradeDate time.Time
}

// Service owns the transaction log and the derived position rows.
type Service struct {
	db         *gorm.DB
	logger     *zap.Logger
	allowShort bool

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewService creates a new portfolio service.
func NewService(db *gorm.DB, logger *zap.Logger, allowShort bool) *Service {
	return &Service{
		db:         db,
		logger:     logger,
		allowShort: allowShort,
		locks:      make(map[uint]*sync.Mutex),
	}
}

// assetLock returns the mutex serializing writes for one asset. Distinct
// assets mutate and recompute independently.
func (s *Service) assetLock(assetID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[assetID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[assetID] = l
	}
	return l
}

// AddTransaction validates and persists a transaction, then recomputes and
// overwrites the owning position. The insert and the recompute share one
// database transaction: if either fails, or the result violates the oversell
// policy, nothing is persisted.
func (s *Service) AddTransaction(ctx context.Context, in TransactionInput) (*models.Transaction, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInvalidInput)
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	asset, err := s.findOrCreateAsset(ctx, symbol)
	if err != nil {
		return nil, err
	}

	lock := s.assetLock(asset.ID)
	lock.Lock()
	defer lock.Unlock()

	record := models.Transaction{
		RefID:     uuid.NewString(),
		AssetID:   asset.ID,
		Side:      in.Side,
		Quantity:  in.Quantity,
		UnitPrice: in.UnitPrice,
		TradeDate: in.TradeDate,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}
		return s.recomputeLocked(tx, asset.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transaction recorded",
		zap.String("symbol", symbol),
		zap.String("side", record.Side),
		zap.String("ref_id", record.RefID),
	)
	return &record, nil
}

// DeleteTransaction removes a transaction by its reference id and recomputes
// the owning position, with the same all-or-nothing guarantee as
// AddTransaction. Deleting a buy that the remaining history still needs is
// an oversell and is rejected under the no-short policy.
func (s *Service) DeleteTransaction(ctx context.Context, refID string) error {
	var record models.Transaction
	if err := s.db.WithContext(ctx).Where("ref_id = ?", refID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, refID)
		}
		return fmt.Errorf("failed to load transaction: %w", err)
	}

	lock := s.assetLock(record.AssetID)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Transaction{}, record.ID)
		if res.Error != nil {
			return fmt.Errorf("failed to delete transaction: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, refID)
		}
		return s.recomputeLocked(tx, record.AssetID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Transaction deleted", zap.String("ref_id", refID), zap.Uint("asset_id", record.AssetID))
	return nil
}

// recomputeLocked replays the asset's full log through the ledger engine and
// overwrites the position row. Callers must hold the asset lock and pass the
// surrounding database transaction.
func (s *Service) recomputeLocked(tx *gorm.DB, assetID uint) error {
	var rows []models.Transaction
	if err := tx.Where("asset_id = ?", assetID).
		Order("trade_date asc, id asc").
		Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load transaction log: %w", err)
	}

	trades := make([]ledger.Trade, len(rows))
	for i, r := range rows {
		trades[i] = ledger.Trade{
			ID:        r.ID,
			Side:      r.Side,
			Quantity:  r.Quantity,
			UnitPrice: r.UnitPrice,
			Date:      r.TradeDate,
		}
	}

	summary, err := ledger.Recompute(trades)
	if err != nil {
		return fmt.Errorf("recompute failed for asset %d: %w", assetID, err)
	}
	if summary.Oversold && !s.allowShort {
		return fmt.Errorf("%w (asset %d)", ErrOversell, assetID)
	}

	var pos models.Position
	err = tx.Where("asset_id = ?", assetID).First(&pos).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pos = models.Position{AssetID: assetID}
	case err != nil:
		return fmt.Errorf("failed to load position: %w", err)
	}

	// Full overwrite: the position row carries no state of its own.
	pos.Quantity = summary.Quantity
	pos.AveragePrice = summary.AveragePrice
	pos.RealizedPnL = summary.RealizedPnL
	pos.Invested = summary.Invested
	pos.Closed = summary.Closed

	if err := tx.Save(&pos).Error; err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// RecomputeAsset rebuilds one asset's position from its transaction log.
func (s *Service) RecomputeAsset(ctx context.Context, assetID uint) error {
	lock := s.assetLock(assetID)
	lock.Lock()
	defer lock.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.recomputeLocked(tx, assetID)
	})
}

// ReconcileAll rebuilds every asset's position from its transaction log.
// Positions are plain derived state, so this is always safe; it runs at
// startup and from the rebuild tool to repair any divergence left behind by
// a crash between a log write and its position overwrite.
func (s *Service) ReconcileAll(ctx context.Context) error {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).Find(&assets).Error; err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}

	failed := 0
	for _, a := range assets {
		if err := s.RecomputeAsset(ctx, a.ID); err != nil {
			failed++
			s.logger.Error("Failed to reconcile position",
				zap.String("symbol", a.Symbol), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("reconcile failed for %d of %d assets", failed, len(assets))
	}
	s.logger.Info("Positions reconciled", zap.Int("assets", len(assets)))
	return nil
}

func (s *Service) findOrCreateAsset(ctx context.Context, symbol string) (*models.Asset, error) {
	asset := models.Asset{Symbol: symbol}
	if err := s.db.WithContext(ctx).FirstOrCreate(&asset, models.Asset{Symbol: symbol}).Error; err != nil {
		return nil, fmt.Errorf("failed to create asset %s: %w", symbol, err)
	}
	return &asset, nil
}

func validateInput(in TransactionInput) error {
	if in.Side != ledger.SideBuy && in.Side != ledger.SideSell {
		return fmt.Errorf("%w: %q", ledger.ErrUnknownSide, in.Side)
	}
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: %s", ledger.ErrInvalidQuantity, in.Quantity)
	}
	if !in.UnitPrice.IsPositive() {
		return fmt.Errorf("%w: %s", ledger.ErrInvalidPrice, in.UnitPrice)
	}
	if in.TradeDate.IsZero() {
		return fmt.Errorf("%w: trade date is required", ErrInvalidInput)
	}
	return nil
}
