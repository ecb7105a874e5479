package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction is one recorded BUY or SELL. Rows are immutable once created;
// the correction path is delete and recreate, and every mutation triggers a
// full position recompute for the owning asset.
type Transaction struct {
	gorm.Model
	RefID     string          `gorm:"uniqueIndex;not null" json:"ref_id"`
	AssetID   uint            `gorm:"index;not null" json:"asset_id"`
	Side      string          `gorm:"not null" json:"side"` // "BUY" or "SELL"
	Quantity  decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"unit_price"`
	TradeDate time.Time       `gorm:"index;not null" json:"trade_date"`
}
