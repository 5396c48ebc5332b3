package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BrokerConnection supplies trading constraints and credentials for a user.
// Credentials are AES-GCM sealed at rest.
type BrokerConnection struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     string `gorm:"type:varchar(64);not null;index"`
	BrokerName string `gorm:"type:varchar(40);not null"`
	IsActive   bool   `gorm:"not null;default:true;index"`

	// SymbolMap maps asset -> broker-native symbol, e.g. {"BTC":"BTCUSDT"}.
	SymbolMap datatypes.JSON `gorm:"type:jsonb"`

	StepSize decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TickSize decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	MinQty   decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Credentials datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (BrokerConnection) TableName() string {
	return "broker_connections"
}
