package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Asset represents a tradable asset tracked by the ledger.
// LastPrice and QuotedAt cache the most recent market quote; they are
// display-only and play no part in position derivation.
type Asset struct {
	gorm.Model
	Symbol    string          `gorm:"uniqueIndex;not null" json:"symbol"`
	Name      string          `json:"name"`
	Currency  string          `gorm:"default:USD" json:"currency"`
	LastPrice decimal.Decimal `gorm:"type:decimal(24,8)" json:"last_price"`
	QuotedAt  *time.Time      `json:"quoted_at,omitempty"`
}
