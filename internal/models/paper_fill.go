package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaperFill is a simulated fill produced by the paper settlement path.
type PaperFill struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement"`
	SignalID    uint64          `gorm:"not null;uniqueIndex"`
	UserID      string          `gorm:"type:varchar(64);not null;index"`
	Asset       string          `gorm:"type:varchar(40);not null;index"`
	Side        string          `gorm:"type:varchar(4);not null"`
	Qty         decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price       decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	PriceSource string          `gorm:"type:varchar(16);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PaperFill) TableName() string {
	return "paper_fills"
}
