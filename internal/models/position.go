package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Position is the derived summary of an asset's transaction log: one row per
// asset, written only by the recompute path and always overwritten wholesale.
// It holds no information that is not re-derivable from the log.
type Position struct {
	gorm.Model
	AssetID      uint            `gorm:"uniqueIndex;not null" json:"asset_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(24,8)" json:"quantity"`
	AveragePrice decimal.Decimal `gorm:"type:decimal(24,8)" json:"average_price"`
	RealizedPnL  decimal.Decimal `gorm:"column:realized_pnl;type:decimal(24,8)" json:"realized_pnl"`
	Invested     decimal.Decimal `gorm:"type:decimal(24,8)" json:"invested"`
	Closed       bool            `json:"closed"`
}
