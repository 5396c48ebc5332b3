package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserAssetPreference is maintained by the user-facing app. The safety
// monitor is the only component here that flips Enabled to false.
type UserAssetPreference struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement"`
	UserID         string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_user_asset_pref,priority:1"`
	Asset          string          `gorm:"type:varchar(40);not null;uniqueIndex:idx_user_asset_pref,priority:2;index"`
	BrokerID       uint64          `gorm:"not null;index"`
	Enabled        bool            `gorm:"not null;default:true;index"`
	MaxExposureUSD decimal.Decimal `gorm:"column:max_exposure_usd;type:numeric(30,10)"`
	RiskMode       string          `gorm:"type:varchar(20);not null;default:'balanced'"`
	ExecutionMode  string          `gorm:"type:varchar(8);not null;default:'paper'"`

	PausedBy *string    `gorm:"type:varchar(40)"`
	PausedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (UserAssetPreference) TableName() string {
	return "user_asset_preferences"
}
