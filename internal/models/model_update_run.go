package models

import "time"

// ModelUpdateRun audits one update attempt on a shadow model, including
// attempts discarded by the KL gate.
type ModelUpdateRun struct {
	ID           uint64  `gorm:"primaryKey;autoIncrement"`
	Asset        string  `gorm:"type:varchar(40);not null;index"`
	Version      int     `gorm:"not null"`
	Episodes     int     `gorm:"not null"`
	Transitions  int     `gorm:"not null"`
	KLDivergence float64 `gorm:"column:kl_divergence;not null"`
	Entropy      float64 `gorm:"not null"`
	AvgReward    float64 `gorm:"not null"`
	Accepted     bool    `gorm:"not null;index"`
	Reason       string  `gorm:"type:varchar(120)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (ModelUpdateRun) TableName() string {
	return "model_update_runs"
}
