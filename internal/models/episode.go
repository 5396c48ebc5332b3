package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	EpisodeStatusOpen   = "open"
	EpisodeStatusClosed = "closed"
)

// Episode is a trading outcome consumed by the model lifecycle as training
// and evaluation input. It opens at execution time and closes on settlement.
type Episode struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	SignalID uint64 `gorm:"not null;uniqueIndex"`
	UserID   string `gorm:"type:varchar(64);not null"`
	Asset    string `gorm:"type:varchar(40);not null;index:idx_episodes_asset_version,priority:1"`
	Version  int    `gorm:"not null;index:idx_episodes_asset_version,priority:2"`
	Mode     string `gorm:"type:varchar(8);not null"`
	Side     string `gorm:"type:varchar(4);not null"`
	Status   string `gorm:"type:varchar(8);not null;index"`

	Qty        decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	EntryPrice decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	ExitPrice  *decimal.Decimal `gorm:"type:numeric(30,10)"`
	SL         *decimal.Decimal `gorm:"column:sl;type:numeric(30,10)"`
	TP         *decimal.Decimal `gorm:"column:tp;type:numeric(30,10)"`

	StartTS   time.Time       `gorm:"column:start_ts;type:timestamptz;not null;index"`
	EndTS     *time.Time      `gorm:"column:end_ts;type:timestamptz;index"`
	RewardSum float64         `gorm:"not null;default:0"`
	PnL       decimal.Decimal `gorm:"column:pnl;type:numeric(30,10);not null;default:0"`
	Metadata  datatypes.JSON  `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Episode) TableName() string {
	return "episodes"
}

// EpisodeMetadata is the JSON shape stored in Episode.Metadata.
type EpisodeMetadata struct {
	Confidence  float64 `json:"confidence"`
	Transitions int     `json:"transitions,omitempty"`
	ExitReason  string  `json:"exit_reason,omitempty"`
	Annotation  string  `json:"annotation,omitempty"`
}
