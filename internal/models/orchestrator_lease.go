package models

import "time"

// OrchestratorLease is a single-flight lease row with expiry.
type OrchestratorLease struct {
	Name      string    `gorm:"type:varchar(80);primaryKey"`
	Holder    string    `gorm:"type:varchar(80);not null"`
	ExpiresAt time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (OrchestratorLease) TableName() string {
	return "orchestrator_leases"
}
