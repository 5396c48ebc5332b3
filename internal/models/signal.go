package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SignalStatusQueued   = "queued"
	SignalStatusSent     = "sent"
	SignalStatusExecuted = "executed"
	SignalStatusFailed   = "failed"

	SideBuy  = "BUY"
	SideSell = "SELL"

	AnnotationDuplicate = "duplicate"
)

// Signal is a proposed order produced by the model for one user/asset.
type Signal struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID string `gorm:"type:varchar(64);not null;index"`
	Asset  string `gorm:"type:varchar(40);not null;index"`
	Side   string `gorm:"type:varchar(4);not null"`

	OrderType  string           `gorm:"type:varchar(16);not null;default:'limit'"`
	Qty        decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	LimitPrice *decimal.Decimal `gorm:"type:numeric(30,10)"`
	SL         *decimal.Decimal `gorm:"column:sl;type:numeric(30,10)"`
	TP         *decimal.Decimal `gorm:"column:tp;type:numeric(30,10)"`
	Confidence float64          `gorm:"not null;default:0"`

	Status       string  `gorm:"type:varchar(16);not null;index"`
	BrokerID     uint64  `gorm:"not null;index"`
	ModelVersion int     `gorm:"not null;default:0"`
	Shadow       bool    `gorm:"not null;default:false"`
	Attempts     int     `gorm:"not null;default:0"`
	Annotation   *string `gorm:"type:varchar(32)"`
	ErrorMessage *string `gorm:"type:text"`

	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	SentAt     *time.Time `gorm:"type:timestamptz"`
	ExecutedAt *time.Time `gorm:"type:timestamptz"`
}

func (Signal) TableName() string {
	return "signals"
}

// SignalStatusRank orders statuses; terminal statuses share the top rank.
func SignalStatusRank(status string) int {
	switch status {
	case SignalStatusQueued:
		return 0
	case SignalStatusSent:
		return 1
	case SignalStatusExecuted, SignalStatusFailed:
		return 2
	default:
		return -1
	}
}

// SignalPriorStatuses lists the statuses a signal may hold before moving to next.
func SignalPriorStatuses(next string) []string {
	switch next {
	case SignalStatusSent:
		return []string{SignalStatusQueued}
	case SignalStatusExecuted, SignalStatusFailed:
		return []string{SignalStatusQueued, SignalStatusSent}
	default:
		return nil
	}
}

func IsTerminalSignalStatus(status string) bool {
	return status == SignalStatusExecuted || status == SignalStatusFailed
}
