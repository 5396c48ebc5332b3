package models

import "time"

// ModelMetrics is the rolled-up performance of one (asset, version).
type ModelMetrics struct {
	ID               uint64  `gorm:"primaryKey;autoIncrement"`
	Asset            string  `gorm:"type:varchar(40);not null;uniqueIndex:idx_model_metrics_asset_version,priority:1"`
	Version          int     `gorm:"not null;uniqueIndex:idx_model_metrics_asset_version,priority:2"`
	WinRate          float64 `gorm:"not null;default:0"`
	Sharpe           float64 `gorm:"not null;default:0"`
	MaxDD            float64 `gorm:"column:max_dd;not null;default:0"`
	TotalTrades      int     `gorm:"not null;default:0"`
	ProfitableTrades int     `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ModelMetrics) TableName() string {
	return "model_metrics"
}
