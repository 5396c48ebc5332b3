package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ModelStatusShadow     = "shadow"
	ModelStatusActive     = "active"
	ModelStatusDeprecated = "deprecated"
)

// TradingModel is one version of the predictive model for an asset.
type TradingModel struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Asset   string `gorm:"type:varchar(40);not null;uniqueIndex:idx_trading_models_asset_version,priority:1"`
	Version int    `gorm:"not null;uniqueIndex:idx_trading_models_asset_version,priority:2"`
	Status  string `gorm:"type:varchar(16);not null;index"`

	Location string         `gorm:"type:text"`
	Weights  datatypes.JSON `gorm:"type:jsonb"`
	Metadata datatypes.JSON `gorm:"type:jsonb"`

	UpdateCount  int        `gorm:"not null;default:0"`
	LastUpdateAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (TradingModel) TableName() string {
	return "trading_models"
}

// ModelMetadata is the JSON shape stored in TradingModel.Metadata. Lineage
// lives in model_version_history, not here.
type ModelMetadata struct {
	PromotedFrom    *int           `json:"promoted_from,omitempty"`
	ClonedFrom      *int           `json:"cloned_from,omitempty"`
	CurriculumStage int            `json:"curriculum_stage"`
	UpdateMetrics   *UpdateMetrics `json:"update_metrics,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

type UpdateMetrics struct {
	KLDivergence float64   `json:"kl_divergence"`
	Entropy      float64   `json:"entropy"`
	AvgReward    float64   `json:"avg_reward"`
	Episodes     int       `json:"episodes"`
	Transitions  int       `json:"transitions"`
	At           time.Time `json:"at"`
}
