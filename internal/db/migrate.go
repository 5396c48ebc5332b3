package db

import (
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		// collaborator-owned inputs
		&models.BrokerConnection{},
		&models.UserAssetPreference{},
		// execution pipeline
		&models.Signal{},
		&models.Execution{},
		&models.PaperFill{},
		&models.Episode{},
		&models.CircuitBreakerState{},
		// model lifecycle
		&models.TradingModel{},
		&models.ModelVersionHistory{},
		&models.ModelMetrics{},
		&models.ModelUpdateRun{},
		// safety + ops
		&models.SafetyAlert{},
		&models.OperationLog{},
		&models.OrchestratorLease{},
		&models.SystemSetting{},
	); err != nil {
		return err
	}
	// At most one shadow and one active model per asset.
	return db.Gorm.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_trading_models_one_live_status
		ON trading_models (asset, status) WHERE status IN ('active', 'shadow')`).Error
}
