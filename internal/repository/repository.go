package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

type SignalRepository interface {
	InsertSignal(ctx context.Context, item *models.Signal) error
	GetSignal(ctx context.Context, id uint64) (*models.Signal, error)
	ListSignals(ctx context.Context, params ListSignalsParams) ([]models.Signal, error)
	CountSignals(ctx context.Context, params ListSignalsParams) (int64, error)
	// ListQueuedSignals returns queued signals oldest first.
	ListQueuedSignals(ctx context.Context, limit int) ([]models.Signal, error)
	ListSentSignalsBefore(ctx context.Context, before time.Time, limit int) ([]models.Signal, error)
	// TransitionSignal moves a signal forward. It returns false when the row
	// was not in an allowed prior status, so status never regresses.
	TransitionSignal(ctx context.Context, id uint64, next string, update SignalUpdate) (bool, error)
}

type ExecutionRepository interface {
	InsertExecution(ctx context.Context, item *models.Execution) error
	ListExecutions(ctx context.Context, params ListExecutionsParams) ([]models.Execution, error)
	CountExecutions(ctx context.Context, params ListExecutionsParams) (int64, error)
	// ListRecentExecutionStatuses returns statuses for an asset, most recent first.
	ListRecentExecutionStatuses(ctx context.Context, asset string, limit int) ([]string, error)
	AverageExecutionLatency(ctx context.Context, asset string, since time.Time) (avgMs float64, samples int64, err error)
	SumExecutedNotional(ctx context.Context, userID, asset string, since time.Time) (decimal.Decimal, error)
	InsertPaperFill(ctx context.Context, item *models.PaperFill) error
}

type EpisodeRepository interface {
	InsertEpisode(ctx context.Context, item *models.Episode) error
	ListOpenEpisodes(ctx context.Context, limit int) ([]models.Episode, error)
	CloseEpisode(ctx context.Context, id uint64, update EpisodeClose) (bool, error)
	// ListClosedEpisodes returns closed episodes for one model version, newest first.
	ListClosedEpisodes(ctx context.Context, asset string, version int, since *time.Time, limit int) ([]models.Episode, error)
	ListEpisodeVersions(ctx context.Context) ([]AssetVersion, error)
}

type ModelRepository interface {
	// GetModelByStatus returns the highest version with the status, or nil.
	GetModelByStatus(ctx context.Context, asset, status string) (*models.TradingModel, error)
	GetModelVersion(ctx context.Context, asset string, version int) (*models.TradingModel, error)
	ListModels(ctx context.Context, params ListModelsParams) ([]models.TradingModel, error)
	ListModelsByStatus(ctx context.Context, status string) ([]models.TradingModel, error)
	MaxModelVersion(ctx context.Context, asset string) (int, error)
	InsertModel(ctx context.Context, item *models.TradingModel, history *models.ModelVersionHistory) error
	// ApplyModelUpdate persists new weights/metadata and increments update_count.
	ApplyModelUpdate(ctx context.Context, id uint64, update ModelUpdate, history *models.ModelVersionHistory) error
	// ApplyModelTransition applies status changes, lineage rows and metrics in one transaction.
	ApplyModelTransition(ctx context.Context, transition ModelTransition) error
	// LatestRollbackPointer returns the newest promoted/rolled_back history row for a version.
	LatestRollbackPointer(ctx context.Context, asset string, version int) (*models.ModelVersionHistory, error)
	ListModelHistory(ctx context.Context, asset string, limit int) ([]models.ModelVersionHistory, error)
	GetModelMetrics(ctx context.Context, asset string, version int) (*models.ModelMetrics, error)
	UpsertModelMetrics(ctx context.Context, item *models.ModelMetrics) error
	InsertModelUpdateRun(ctx context.Context, item *models.ModelUpdateRun) error
}

type BreakerRepository interface {
	GetBreakerState(ctx context.Context, service string) (*models.CircuitBreakerState, error)
	UpsertBreakerState(ctx context.Context, item *models.CircuitBreakerState) error
	ListBreakerStates(ctx context.Context) ([]models.CircuitBreakerState, error)
}

type AlertRepository interface {
	InsertSafetyAlert(ctx context.Context, item *models.SafetyAlert) error
	ListSafetyAlerts(ctx context.Context, params ListSafetyAlertsParams) ([]models.SafetyAlert, error)
	CountSafetyAlerts(ctx context.Context, params ListSafetyAlertsParams) (int64, error)
	AcknowledgeSafetyAlert(ctx context.Context, id uint64, at time.Time) (bool, error)
	HasOpenSafetyAlert(ctx context.Context, asset, alertType string, since time.Time) (bool, error)
}

type PreferenceRepository interface {
	// ListTradablePreferences returns enabled preferences whose broker connection is active.
	ListTradablePreferences(ctx context.Context) ([]TradablePreference, error)
	GetBrokerConnection(ctx context.Context, id uint64) (*models.BrokerConnection, error)
	// DisableAssetPreferences disables every enabled preference for the asset and
	// returns how many rows changed. Already disabled rows are left untouched.
	DisableAssetPreferences(ctx context.Context, asset, pausedBy string, at time.Time) (int64, error)
}

type OperationLogRepository interface {
	InsertOperationLog(ctx context.Context, item *models.OperationLog) error
	ListOperationLogs(ctx context.Context, params ListOperationLogsParams) ([]models.OperationLog, error)
}

type SettingsRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

type LeaseRepository interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

type Repository interface {
	SignalRepository
	ExecutionRepository
	EpisodeRepository
	ModelRepository
	BreakerRepository
	AlertRepository
	PreferenceRepository
	OperationLogRepository
	SettingsRepository
	LeaseRepository
}

type ListSignalsParams struct {
	Limit   int
	Offset  int
	UserID  *string
	Asset   *string
	Status  *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}

type SignalUpdate struct {
	At           time.Time
	Attempts     *int
	Annotation   *string
	ErrorMessage *string
}

type ListExecutionsParams struct {
	Limit   int
	Offset  int
	UserID  *string
	Asset   *string
	Status  *string
	Mode    *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}

type EpisodeClose struct {
	ExitPrice decimal.Decimal
	PnL       decimal.Decimal
	RewardSum float64
	EndTS     time.Time
	Metadata  datatypes.JSON
}

type AssetVersion struct {
	Asset   string
	Version int
}

type ListModelsParams struct {
	Limit   int
	Offset  int
	Asset   *string
	Status  *string
	OrderBy string
	Asc     *bool
}

type ModelUpdate struct {
	Weights  datatypes.JSON
	Metadata datatypes.JSON
	At       time.Time
}

type ModelStatusChange struct {
	ModelID uint64
	Status  string
}

// ModelTransition is applied atomically; StatusChanges run in order.
type ModelTransition struct {
	StatusChanges []ModelStatusChange
	History       []models.ModelVersionHistory
	Metrics       []models.ModelMetrics
}

type ListSafetyAlertsParams struct {
	Limit        int
	Offset       int
	Asset        *string
	Severity     *string
	Type         *string
	Acknowledged *bool
	Since        *time.Time
	OrderBy      string
	Asc          *bool
}

type TradablePreference struct {
	Preference models.UserAssetPreference
	Broker     models.BrokerConnection
}

type ListOperationLogsParams struct {
	Limit     int
	Offset    int
	Operation *string
	Status    *string
	Since     *time.Time
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
