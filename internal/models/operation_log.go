package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OperationOrchestratorCycle = "orchestrator_cycle"
	OperationSafetyCheck       = "safety_check"
	OperationAutoPause         = "auto_pause"
	OperationModelUpdate       = "model_update"
	OperationModelPromotion    = "model_promotion"
	OperationModelRollback     = "model_rollback"
	OperationEpisodeSettlement = "episode_settlement"

	OperationStatusOK      = "ok"
	OperationStatusPartial = "partial"
	OperationStatusFailed  = "failed"
	OperationStatusSkipped = "skipped"
)

// OperationLog is the append-only cycle/operation history shown on dashboards.
type OperationLog struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CycleID   string `gorm:"type:varchar(36);not null;index"`
	Operation string `gorm:"type:varchar(40);not null;index"`
	Status    string `gorm:"type:varchar(10);not null;index"`

	UsersProcessed   int `gorm:"not null;default:0"`
	SignalsGenerated int `gorm:"not null;default:0"`
	TradesExecuted   int `gorm:"not null;default:0"`
	TradesFailed     int `gorm:"not null;default:0"`

	Details    datatypes.JSON `gorm:"type:jsonb"`
	StartedAt  time.Time      `gorm:"type:timestamptz;not null;index"`
	FinishedAt time.Time      `gorm:"type:timestamptz;not null"`
}

func (OperationLog) TableName() string {
	return "operation_logs"
}
