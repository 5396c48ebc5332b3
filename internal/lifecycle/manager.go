// Package lifecycle manages model versions per asset: shadow cloning,
// gated updates, promotion and rollback.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/client/trainer"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/events"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/opslog"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type Store interface {
	repository.ModelRepository
	repository.EpisodeRepository
}

type Trainer interface {
	Train(ctx context.Context, req trainer.Request) (trainer.Result, error)
}

type Manager struct {
	Config    config.LifecycleConfig
	Repo      Store
	Trainer   Trainer
	OpsLog    *opslog.Recorder
	Publisher events.Publisher
	Metrics   *metrics.Recorder
	Logger    *zap.Logger
	Now       func() time.Time
}

// UpdateResult describes one Update call.
type UpdateResult struct {
	Asset        string  `json:"asset"`
	Version      int     `json:"version"`
	Skipped      bool    `json:"skipped,omitempty"`
	Discarded    bool    `json:"discarded,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	Episodes     int     `json:"episodes"`
	Transitions  int     `json:"transitions"`
	KLDivergence float64 `json:"kl_divergence,omitempty"`
	Stage        int     `json:"curriculum_stage"`
}

type PromotionResult struct {
	Asset       string `json:"asset"`
	Promoted    bool   `json:"promoted"`
	Reason      string `json:"reason"`
	FromVersion *int   `json:"from_version,omitempty"`
	ToVersion   int    `json:"to_version,omitempty"`
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Manager) lookback() int {
	if m.Config.EpisodeLookback > 0 {
		return m.Config.EpisodeLookback
	}
	return 500
}

func (m *Manager) logWarn(msg string, err error, fields ...zap.Field) {
	if m != nil && m.Logger != nil {
		m.Logger.Warn(msg, append(fields, zap.Error(err))...)
	}
}

func parseMetadata(raw datatypes.JSON) models.ModelMetadata {
	var meta models.ModelMetadata
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &meta)
	}
	return meta
}

func mustJSON(v any) datatypes.JSON {
	raw, _ := json.Marshal(v)
	return datatypes.JSON(raw)
}

func intPtr(v int) *int { return &v }

// EnsureShadow returns the asset's shadow model, cloning the active one when
// there is none.
func (m *Manager) EnsureShadow(ctx context.Context, asset string) (*models.TradingModel, error) {
	shadow, err := m.Repo.GetModelByStatus(ctx, asset, models.ModelStatusShadow)
	if err != nil {
		return nil, err
	}
	if shadow != nil {
		return shadow, nil
	}
	active, err := m.Repo.GetModelByStatus(ctx, asset, models.ModelStatusActive)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, apperr.NotFound("active model for %s", asset)
	}
	maxVersion, err := m.Repo.MaxModelVersion(ctx, asset)
	if err != nil {
		return nil, err
	}
	src := parseMetadata(active.Metadata)
	meta := models.ModelMetadata{
		ClonedFrom:      intPtr(active.Version),
		CurriculumStage: src.CurriculumStage,
		Extra:           src.Extra,
	}
	now := m.now()
	item := &models.TradingModel{
		Asset:     asset,
		Version:   maxVersion + 1,
		Status:    models.ModelStatusShadow,
		Location:  active.Location,
		Weights:   active.Weights,
		Metadata:  mustJSON(meta),
		CreatedAt: now,
		UpdatedAt: now,
	}
	history := &models.ModelVersionHistory{
		Event:       models.ModelEventCloned,
		FromVersion: intPtr(active.Version),
		CreatedAt:   now,
	}
	if err := m.Repo.InsertModel(ctx, item, history); err != nil {
		return nil, fmt.Errorf("clone shadow for %s: %w", asset, err)
	}
	m.Metrics.RecordModelTransition(asset, models.ModelEventCloned)
	if m.Logger != nil {
		m.Logger.Info("shadow model cloned", zap.String("asset", asset), zap.Int("from", active.Version), zap.Int("version", item.Version))
	}
	return item, nil
}

// Update trains the shadow on its recent closed episodes. An update whose KL
// divergence exceeds the limit leaves the model untouched.
func (m *Manager) Update(ctx context.Context, asset string) (UpdateResult, error) {
	res := UpdateResult{Asset: asset}
	shadow, err := m.Repo.GetModelByStatus(ctx, asset, models.ModelStatusShadow)
	if err != nil {
		return res, err
	}
	if shadow == nil {
		res.Skipped, res.Reason = true, "no shadow model"
		return res, nil
	}
	res.Version = shadow.Version
	eps, err := m.Repo.ListClosedEpisodes(ctx, asset, shadow.Version, shadow.LastUpdateAt, m.lookback())
	if err != nil {
		return res, err
	}
	experiences := make([]trainer.Experience, 0, len(eps))
	for _, ep := range eps {
		var em models.EpisodeMetadata
		if len(ep.Metadata) > 0 {
			_ = json.Unmarshal(ep.Metadata, &em)
		}
		n := em.Transitions
		if n < 1 {
			n = 1
		}
		res.Transitions += n
		experiences = append(experiences, trainer.Experience{
			SignalID:    ep.SignalID,
			Side:        ep.Side,
			Reward:      ep.RewardSum,
			PnL:         ep.PnL.InexactFloat64(),
			Confidence:  em.Confidence,
			Transitions: n,
		})
	}
	res.Episodes = len(eps)
	minEpisodes, minTransitions := m.Config.MinEpisodes, m.Config.MinTransitions
	if minEpisodes <= 0 {
		minEpisodes = 10
	}
	if minTransitions <= 0 {
		minTransitions = 32
	}
	if res.Episodes < minEpisodes || res.Transitions < minTransitions {
		res.Skipped = true
		res.Reason = fmt.Sprintf("insufficient data: %d episodes, %d transitions", res.Episodes, res.Transitions)
		return res, nil
	}
	if m.Trainer == nil {
		return res, fmt.Errorf("trainer not configured")
	}

	meta := parseMetadata(shadow.Metadata)
	res.Stage = meta.CurriculumStage
	out, err := m.Trainer.Train(ctx, trainer.Request{
		Asset:       asset,
		Version:     shadow.Version,
		Weights:     json.RawMessage(shadow.Weights),
		Experiences: experiences,
		Hyperparams: trainer.Hyperparams{
			ClipRange:       m.Config.ClipRange,
			TargetKL:        m.Config.TargetKL,
			LearningRate:    m.Config.LearningRate,
			CurriculumStage: meta.CurriculumStage,
		},
	})
	if err != nil {
		m.Metrics.RecordModelUpdate(asset, "error")
		return res, fmt.Errorf("train %s v%d: %w", asset, shadow.Version, err)
	}
	res.KLDivergence = out.KLDivergence
	now := m.now()
	run := &models.ModelUpdateRun{
		Asset:        asset,
		Version:      shadow.Version,
		Episodes:     res.Episodes,
		Transitions:  res.Transitions,
		KLDivergence: out.KLDivergence,
		Entropy:      out.Entropy,
		AvgReward:    out.AvgReward,
		CreatedAt:    now,
	}

	maxKL := m.Config.MaxKLDivergence
	if maxKL <= 0 {
		maxKL = 0.05
	}
	if out.KLDivergence > maxKL {
		res.Discarded = true
		res.Reason = fmt.Sprintf("kl_divergence %.4f > %.4f", out.KLDivergence, maxKL)
		run.Reason = res.Reason
		if err := m.Repo.InsertModelUpdateRun(ctx, run); err != nil {
			m.logWarn("update run audit failed", err, zap.String("asset", asset))
		}
		m.Metrics.RecordModelUpdate(asset, "discarded")
		m.record(ctx, models.OperationModelUpdate, models.OperationStatusSkipped, res)
		if m.Logger != nil {
			m.Logger.Warn("model update discarded", zap.String("asset", asset), zap.Int("version", shadow.Version), zap.Float64("kl", out.KLDivergence))
		}
		return res, nil
	}

	maxStage := m.Config.MaxCurriculumStage
	if out.AvgReward > 0 && meta.CurriculumStage < maxStage {
		meta.CurriculumStage++
	}
	res.Stage = meta.CurriculumStage
	meta.UpdateMetrics = &models.UpdateMetrics{
		KLDivergence: out.KLDivergence,
		Entropy:      out.Entropy,
		AvgReward:    out.AvgReward,
		Episodes:     res.Episodes,
		Transitions:  res.Transitions,
		At:           now,
	}
	history := &models.ModelVersionHistory{
		Asset:   asset,
		Version: shadow.Version,
		Event:   models.ModelEventUpdated,
		Details: mustJSON(meta.UpdateMetrics),
	}
	if err := m.Repo.ApplyModelUpdate(ctx, shadow.ID, repository.ModelUpdate{
		Weights:  datatypes.JSON(out.Weights),
		Metadata: mustJSON(meta),
		At:       now,
	}, history); err != nil {
		return res, fmt.Errorf("persist update for %s v%d: %w", asset, shadow.Version, err)
	}
	run.Accepted = true
	if err := m.Repo.InsertModelUpdateRun(ctx, run); err != nil {
		m.logWarn("update run audit failed", err, zap.String("asset", asset))
	}
	m.Metrics.RecordModelUpdate(asset, "accepted")
	m.record(ctx, models.OperationModelUpdate, models.OperationStatusOK, res)
	return res, nil
}

// EvaluatePromotion promotes the shadow when its metrics clear the gates.
func (m *Manager) EvaluatePromotion(ctx context.Context, asset string) (PromotionResult, error) {
	res := PromotionResult{Asset: asset}
	shadow, err := m.Repo.GetModelByStatus(ctx, asset, models.ModelStatusShadow)
	if err != nil {
		return res, err
	}
	if shadow == nil {
		res.Reason = "no shadow model"
		return res, nil
	}
	sm, err := m.Repo.GetModelMetrics(ctx, asset, shadow.Version)
	if err != nil {
		return res, err
	}
	if sm == nil {
		sm = &models.ModelMetrics{Asset: asset, Version: shadow.Version}
	}
	active, err := m.Repo.GetModelByStatus(ctx, asset, models.ModelStatusActive)
	if err != nil {
		return res, err
	}
	var am *models.ModelMetrics
	if active != nil {
		am, err = m.Repo.GetModelMetrics(ctx, asset, active.Version)
		if err != nil {
			return res, err
		}
		if am == nil {
			am = &models.ModelMetrics{Asset: asset, Version: active.Version}
		}
	}
	verdict := Evaluate(*sm, am, ThresholdsFrom(m.Config))
	res.Reason = verdict.Reason
	if !verdict.Promote {
		return res, nil
	}

	now := m.now()
	meta := parseMetadata(shadow.Metadata)
	tr := repository.ModelTransition{}
	if active != nil {
		res.FromVersion = intPtr(active.Version)
		meta.PromotedFrom = intPtr(active.Version)
		tr.StatusChanges = append(tr.StatusChanges, repository.ModelStatusChange{ModelID: active.ID, Status: models.ModelStatusDeprecated})
		tr.History = append(tr.History, models.ModelVersionHistory{
			Asset: asset, Version: active.Version, Event: models.ModelEventDemoted, CreatedAt: now,
		})
	}
	tr.StatusChanges = append(tr.StatusChanges, repository.ModelStatusChange{ModelID: shadow.ID, Status: models.ModelStatusActive})
	tr.History = append(tr.History, models.ModelVersionHistory{
		Asset:           asset,
		Version:         shadow.Version,
		Event:           models.ModelEventPromoted,
		FromVersion:     res.FromVersion,
		RollbackVersion: res.FromVersion,
		Details:         mustJSON(map[string]any{"reason": verdict.Reason, "metrics": sm}),
		CreatedAt:       now,
	})
	carried := *sm
	carried.Asset, carried.Version = asset, shadow.Version
	tr.Metrics = append(tr.Metrics, carried)
	if err := m.Repo.ApplyModelTransition(ctx, tr); err != nil {
		return res, fmt.Errorf("promote %s v%d: %w", asset, shadow.Version, err)
	}
	res.Promoted = true
	res.ToVersion = shadow.Version
	m.Metrics.RecordModelTransition(asset, models.ModelEventPromoted)
	m.record(ctx, models.OperationModelPromotion, models.OperationStatusOK, res)
	events.PublishBestEffort(ctx, m.Publisher, m.Logger, events.TopicModelTransitions, asset, res)
	if m.Logger != nil {
		m.Logger.Info("model promoted", zap.String("asset", asset), zap.Int("version", shadow.Version), zap.String("reason", verdict.Reason))
	}
	return res, nil
}

// Rollback restores the version the active model replaced.
func (m *Manager) Rollback(ctx context.Context, asset string) (PromotionResult, error) {
	res := PromotionResult{Asset: asset}
	active, err := m.Repo.GetModelByStatus(ctx, asset, models.ModelStatusActive)
	if err != nil {
		return res, err
	}
	if active == nil {
		return res, apperr.NotFound("active model for %s", asset)
	}
	ptr, err := m.Repo.LatestRollbackPointer(ctx, asset, active.Version)
	if err != nil {
		return res, err
	}
	if ptr == nil || ptr.RollbackVersion == nil {
		return res, apperr.NotFound("rollback pointer for %s v%d", asset, active.Version)
	}
	target, err := m.Repo.GetModelVersion(ctx, asset, *ptr.RollbackVersion)
	if err != nil {
		return res, err
	}
	if target == nil {
		return res, apperr.NotFound("model %s v%d", asset, *ptr.RollbackVersion)
	}
	var next *int
	if prev, err := m.Repo.LatestRollbackPointer(ctx, asset, target.Version); err == nil && prev != nil {
		next = prev.RollbackVersion
	}

	now := m.now()
	tr := repository.ModelTransition{
		StatusChanges: []repository.ModelStatusChange{
			{ModelID: active.ID, Status: models.ModelStatusDeprecated},
			{ModelID: target.ID, Status: models.ModelStatusActive},
		},
		History: []models.ModelVersionHistory{
			{Asset: asset, Version: active.Version, Event: models.ModelEventDemoted, CreatedAt: now},
			{Asset: asset, Version: target.Version, Event: models.ModelEventRolledBack, FromVersion: intPtr(active.Version), RollbackVersion: next, CreatedAt: now},
		},
	}
	if err := m.Repo.ApplyModelTransition(ctx, tr); err != nil {
		return res, fmt.Errorf("rollback %s to v%d: %w", asset, target.Version, err)
	}
	res.Promoted = true
	res.Reason = "rollback"
	res.FromVersion = intPtr(active.Version)
	res.ToVersion = target.Version
	m.Metrics.RecordModelTransition(asset, models.ModelEventRolledBack)
	m.record(ctx, models.OperationModelRollback, models.OperationStatusOK, res)
	events.PublishBestEffort(ctx, m.Publisher, m.Logger, events.TopicModelTransitions, asset, res)
	if m.Logger != nil {
		m.Logger.Warn("model rolled back", zap.String("asset", asset), zap.Int("from", active.Version), zap.Int("to", target.Version))
	}
	return res, nil
}

// RunUpdates ensures a shadow and updates it for every asset with an active model.
func (m *Manager) RunUpdates(ctx context.Context) error {
	assets, err := m.activeAssets(ctx)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := m.EnsureShadow(ctx, asset); err != nil {
			m.logWarn("ensure shadow failed", err, zap.String("asset", asset))
			continue
		}
		if _, err := m.Update(ctx, asset); err != nil {
			m.logWarn("model update failed", err, zap.String("asset", asset))
			m.record(ctx, models.OperationModelUpdate, models.OperationStatusFailed, map[string]string{"asset": asset, "error": err.Error()})
		}
	}
	return nil
}

// RunPromotions refreshes metrics and evaluates every shadow.
func (m *Manager) RunPromotions(ctx context.Context) error {
	if err := m.RefreshMetrics(ctx); err != nil {
		return err
	}
	shadows, err := m.Repo.ListModelsByStatus(ctx, models.ModelStatusShadow)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, s := range shadows {
		if seen[s.Asset] || ctx.Err() != nil {
			continue
		}
		seen[s.Asset] = true
		if _, err := m.EvaluatePromotion(ctx, s.Asset); err != nil {
			m.logWarn("promotion evaluation failed", err, zap.String("asset", s.Asset))
		}
	}
	return nil
}

func (m *Manager) activeAssets(ctx context.Context) ([]string, error) {
	active, err := m.Repo.ListModelsByStatus(ctx, models.ModelStatusActive)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(active))
	for _, a := range active {
		if !seen[a.Asset] {
			seen[a.Asset] = true
			out = append(out, a.Asset)
		}
	}
	return out, nil
}

func (m *Manager) record(ctx context.Context, operation, status string, details any) {
	now := m.now()
	if err := m.OpsLog.Record(ctx, &models.OperationLog{
		CycleID:    uuid.NewString(),
		Operation:  operation,
		Status:     status,
		Details:    mustJSON(details),
		StartedAt:  now,
		FinishedAt: now,
	}); err != nil {
		m.logWarn("operation log write failed", err, zap.String("operation", operation))
	}
}
