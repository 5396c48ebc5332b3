package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ModelEventCreated    = "created"
	ModelEventCloned     = "cloned"
	ModelEventUpdated    = "updated"
	ModelEventPromoted   = "promoted"
	ModelEventDemoted    = "demoted"
	ModelEventRolledBack = "rolled_back"
)

// ModelVersionHistory is the append-only lineage of model versions.
// RollbackVersion on a promoted/rolled_back row is the version to restore
// if the row's version is rolled back.
type ModelVersionHistory struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Asset   string `gorm:"type:varchar(40);not null;index:idx_model_history_asset_version,priority:1"`
	Version int    `gorm:"not null;index:idx_model_history_asset_version,priority:2"`
	Event   string `gorm:"type:varchar(20);not null;index"`

	FromVersion     *int
	RollbackVersion *int
	Details         datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (ModelVersionHistory) TableName() string {
	return "model_version_history"
}
