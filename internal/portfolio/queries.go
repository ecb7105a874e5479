package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invest-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PositionView is a position joined with its asset and, when a quote is
// cached, current market valuation. Readers treat this as authoritative and
// never redo cost-basis arithmetic themselves.
type PositionView struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name,omitempty"`
	Currency      string          `json:"currency"`
	Quantity      decimal.Decimal `json:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Invested      decimal.Decimal `json:"invested"`
	Closed        bool            `json:"closed"`
	LastPrice     decimal.Decimal `json:"last_price,omitempty"`
	QuotedAt      *time.Time      `json:"quoted_at,omitempty"`
	MarketValue   decimal.Decimal `json:"market_value,omitempty"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl,omitempty"`
}

// GetPosition returns the stored position summary for one asset symbol.
func (s *Service) GetPosition(ctx context.Context, symbol string) (*PositionView, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var asset models.Asset
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
		}
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}

	var pos models.Position
	if err := s.db.WithContext(ctx).Where("asset_id = ?", asset.ID).First(&pos).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Asset exists but was never traded: the empty-history position.
			pos = models.Position{AssetID: asset.ID, Closed: true}
		} else {
			return nil, fmt.Errorf("failed to load position: %w", err)
		}
	}

	view := newPositionView(&asset, &pos)
	return &view, nil
}

// ListPositions returns the stored position summaries for every asset.
func (s *Service) ListPositions(ctx context.Context) ([]PositionView, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).Order("symbol asc").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	var positions []models.Position
	if err := s.db.WithContext(ctx).Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	byAsset := make(map[uint]*models.Position, len(positions))
	for i := range positions {
		byAsset[positions[i].AssetID] = &positions[i]
	}

	views := make([]PositionView, 0, len(assets))
	for i := range assets {
		pos, ok := byAsset[assets[i].ID]
		if !ok {
			pos = &models.Position{AssetID: assets[i].ID, Closed: true}
		}
		views = append(views, newPositionView(&assets[i], pos))
	}
	return views, nil
}

// ListTransactions returns the raw transaction log for one asset, newest
// first.
func (s *Service) ListTransactions(ctx context.Context, symbol string) ([]models.Transaction, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var asset models.Asset
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, symbol)
		}
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}

	var rows []models.Transaction
	if err := s.db.WithContext(ctx).
		Where("asset_id = ?", asset.ID).
		Order("trade_date desc, id desc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return rows, nil
}

func newPositionView(asset *models.Asset, pos *models.Position) PositionView {
	view := PositionView{
		Symbol:       asset.Symbol,
		Name:         asset.Name,
		Currency:     asset.Currency,
		Quantity:     pos.Quantity,
		AveragePrice: pos.AveragePrice,
		RealizedPnL:  pos.RealizedPnL,
		Invested:     pos.Invested,
		Closed:       pos.Closed,
		LastPrice:    asset.LastPrice,
		QuotedAt:     asset.QuotedAt,
	}
	if asset.LastPrice.IsPositive() && !pos.Quantity.IsZero() {
		view.MarketValue = pos.Quantity.Mul(asset.LastPrice)
		view.UnrealizedPnL = pos.Quantity.Mul(asset.LastPrice.Sub(pos.AveragePrice))
	}
	return view
}
