package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

const (
	// FeatureTrading is the kill switch. Off means a cycle does no work.
	FeatureTrading           = "feature.trading"
	FeatureOrchestrator      = "feature.orchestrator"
	FeatureSafetyMonitor     = "feature.safety_monitor"
	FeatureModelLifecycle    = "feature.model_lifecycle"
	FeatureEpisodeSettlement = "feature.episode_settlement"
	FeatureMetricsRollup     = "feature.metrics_rollup"

	// SettingExecutorMode forces every signal to "paper" when set to paper.
	SettingExecutorMode = "trading.executor_mode"

	ExecutorModePreference = "preference"
	ExecutorModePaper      = "paper"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureTrading:           true,
		FeatureOrchestrator:      true,
		FeatureSafetyMonitor:     true,
		FeatureModelLifecycle:    true,
		FeatureEpisodeSettlement: true,
		FeatureMetricsRollup:     true,
	}
}

// Snapshot is the settings view a cycle reads once at start.
type Snapshot struct {
	Switches     map[string]bool
	ExecutorMode string
	ReadAt       time.Time
}

func (s Snapshot) Enabled(key string) bool {
	if v, ok := s.Switches[key]; ok {
		return v
	}
	return DefaultFeatureSwitches()[key]
}

func (s Snapshot) TradingEnabled() bool { return s.Enabled(FeatureTrading) }

// ModeFor resolves the execution mode of a preference under the snapshot.
func (s Snapshot) ModeFor(preferred string) string {
	if s.ExecutorMode == ExecutorModePaper {
		return models.ExecutionModePaper
	}
	if strings.EqualFold(strings.TrimSpace(preferred), models.ExecutionModeLive) {
		return models.ExecutionModeLive
	}
	return models.ExecutionModePaper
}

type SystemSettingsService struct {
	Repo repository.SettingsRepository
	Now  func() time.Time
}

func (s *SystemSettingsService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// EnsureDefaultSwitches writes missing switches. Existing values are never
// overwritten so an operator's kill switch survives restarts.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := s.now()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   s.now(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

func (s *SystemSettingsService) SetExecutorMode(ctx context.Context, mode string) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != ExecutorModePaper {
		mode = ExecutorModePreference
	}
	raw, _ := json.Marshal(mode)
	return s.Repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:         SettingExecutorMode,
		Value:       datatypes.JSON(raw),
		Description: "executor mode",
		UpdatedAt:   s.now(),
	})
}

// Snapshot reads every switch in one pass. A read failure falls back to
// defaults except for the kill switch, which fails closed.
func (s *SystemSettingsService) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		Switches:     DefaultFeatureSwitches(),
		ExecutorMode: ExecutorModePreference,
		ReadAt:       s.now(),
	}
	if s == nil || s.Repo == nil {
		return snap
	}
	prefix := "feature."
	items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Limit: 500, Prefix: &prefix})
	if err != nil {
		snap.Switches[FeatureTrading] = false
		return snap
	}
	for _, item := range items {
		var enabled bool
		if err := json.Unmarshal(item.Value, &enabled); err != nil {
			continue
		}
		snap.Switches[item.Key] = enabled
	}
	if item, err := s.Repo.GetSystemSettingByKey(ctx, SettingExecutorMode); err == nil && item != nil {
		var mode string
		if json.Unmarshal(item.Value, &mode) == nil && mode == ExecutorModePaper {
			snap.ExecutorMode = ExecutorModePaper
		}
	}
	return snap
}
