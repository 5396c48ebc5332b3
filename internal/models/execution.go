package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	ExecutionStatusFilled    = "filled"
	ExecutionStatusPartial   = "partially_filled"
	ExecutionStatusAccepted  = "accepted"
	ExecutionStatusDuplicate = "duplicate"
	ExecutionStatusRejected  = "rejected"
	ExecutionStatusCancelled = "cancelled"

	ExecutionModePaper = "paper"
	ExecutionModeLive  = "live"
)

// Execution is the recorded outcome of one resolved signal.
type Execution struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	SignalID uint64 `gorm:"not null;uniqueIndex"`
	UserID   string `gorm:"type:varchar(64);not null;index"`
	BrokerID uint64 `gorm:"not null;index"`
	Asset    string `gorm:"type:varchar(40);not null;index:idx_executions_asset_created,priority:1"`
	Side     string `gorm:"type:varchar(4);not null"`
	Mode     string `gorm:"type:varchar(8);not null;default:'live'"`
	Shadow   bool   `gorm:"not null;default:false"`

	Qty           decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ExecutedPrice decimal.Decimal `gorm:"type:numeric(30,10)"`
	ExecutedQty   decimal.Decimal `gorm:"type:numeric(30,10)"`
	OrderID       string          `gorm:"type:varchar(100)"`
	Status        string          `gorm:"type:varchar(20);not null;index"`
	LatencyMs     int64           `gorm:"not null;default:0"`
	RawResponse   datatypes.JSON  `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index:idx_executions_asset_created,priority:2"`
}

func (Execution) TableName() string {
	return "executions"
}

// IsFailedExecutionStatus reports statuses that count toward a failure streak.
func IsFailedExecutionStatus(status string) bool {
	return status == ExecutionStatusRejected || status == ExecutionStatusCancelled
}
