package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/client/trainer"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type memModels struct {
	repository.EpisodeRepository

	models   []*models.TradingModel
	history  []models.ModelVersionHistory
	metrics  map[string]models.ModelMetrics
	runs     []models.ModelUpdateRun
	episodes []models.Episode
	writes   int
	failTx   bool
}

func newMemModels(ms ...models.TradingModel) *memModels {
	s := &memModels{metrics: map[string]models.ModelMetrics{}}
	for i := range ms {
		m := ms[i]
		m.ID = uint64(i + 1)
		s.models = append(s.models, &m)
	}
	return s
}

func metricsKey(asset string, version int) string {
	return fmt.Sprintf("%s/%d", asset, version)
}

func (s *memModels) GetModelByStatus(_ context.Context, asset, status string) (*models.TradingModel, error) {
	var best *models.TradingModel
	for _, m := range s.models {
		if m.Asset == asset && m.Status == status && (best == nil || m.Version > best.Version) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *memModels) GetModelVersion(_ context.Context, asset string, version int) (*models.TradingModel, error) {
	for _, m := range s.models {
		if m.Asset == asset && m.Version == version {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memModels) ListModels(context.Context, repository.ListModelsParams) ([]models.TradingModel, error) {
	return nil, nil
}

func (s *memModels) ListModelsByStatus(_ context.Context, status string) ([]models.TradingModel, error) {
	out := []models.TradingModel{}
	for _, m := range s.models {
		if m.Status == status {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memModels) MaxModelVersion(_ context.Context, asset string) (int, error) {
	max := 0
	for _, m := range s.models {
		if m.Asset == asset && m.Version > max {
			max = m.Version
		}
	}
	return max, nil
}

func (s *memModels) InsertModel(_ context.Context, item *models.TradingModel, history *models.ModelVersionHistory) error {
	s.writes++
	item.ID = uint64(len(s.models) + 1)
	cp := *item
	s.models = append(s.models, &cp)
	if history != nil {
		history.Asset, history.Version = item.Asset, item.Version
		s.history = append(s.history, *history)
	}
	return nil
}

func (s *memModels) ApplyModelUpdate(_ context.Context, id uint64, u repository.ModelUpdate, history *models.ModelVersionHistory) error {
	s.writes++
	for _, m := range s.models {
		if m.ID == id {
			m.Weights, m.Metadata = u.Weights, u.Metadata
			m.UpdateCount++
			at := u.At
			m.LastUpdateAt = &at
			if history != nil {
				s.history = append(s.history, *history)
			}
			return nil
		}
	}
	return errors.New("not found")
}

func (s *memModels) ApplyModelTransition(_ context.Context, tr repository.ModelTransition) error {
	s.writes++
	if s.failTx {
		return errors.New("tx failed")
	}
	for _, c := range tr.StatusChanges {
		for _, m := range s.models {
			if m.ID == c.ModelID {
				m.Status = c.Status
			}
		}
	}
	s.history = append(s.history, tr.History...)
	for _, mm := range tr.Metrics {
		s.metrics[metricsKey(mm.Asset, mm.Version)] = mm
	}
	return nil
}

func (s *memModels) LatestRollbackPointer(_ context.Context, asset string, version int) (*models.ModelVersionHistory, error) {
	for i := len(s.history) - 1; i >= 0; i-- {
		h := s.history[i]
		if h.Asset == asset && h.Version == version && (h.Event == models.ModelEventPromoted || h.Event == models.ModelEventRolledBack) {
			return &h, nil
		}
	}
	return nil, nil
}

func (s *memModels) ListModelHistory(context.Context, string, int) ([]models.ModelVersionHistory, error) {
	return s.history, nil
}

func (s *memModels) GetModelMetrics(_ context.Context, asset string, version int) (*models.ModelMetrics, error) {
	mm, ok := s.metrics[metricsKey(asset, version)]
	if !ok {
		return nil, nil
	}
	return &mm, nil
}

func (s *memModels) UpsertModelMetrics(_ context.Context, item *models.ModelMetrics) error {
	s.metrics[metricsKey(item.Asset, item.Version)] = *item
	return nil
}

func (s *memModels) InsertModelUpdateRun(_ context.Context, item *models.ModelUpdateRun) error {
	s.runs = append(s.runs, *item)
	return nil
}

func (s *memModels) ListClosedEpisodes(_ context.Context, asset string, version int, _ *time.Time, _ int) ([]models.Episode, error) {
	out := []models.Episode{}
	for _, ep := range s.episodes {
		if ep.Asset == asset && ep.Version == version {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *memModels) ListEpisodeVersions(context.Context) ([]repository.AssetVersion, error) {
	seen := map[repository.AssetVersion]bool{}
	out := []repository.AssetVersion{}
	for _, ep := range s.episodes {
		k := repository.AssetVersion{Asset: ep.Asset, Version: ep.Version}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memModels) model(asset string, version int) *models.TradingModel {
	for _, m := range s.models {
		if m.Asset == asset && m.Version == version {
			return m
		}
	}
	return nil
}

type stubTrainer struct {
	result trainer.Result
	calls  []trainer.Request
}

func (t *stubTrainer) Train(_ context.Context, req trainer.Request) (trainer.Result, error) {
	t.calls = append(t.calls, req)
	return t.result, nil
}

func closedEpisodes(asset string, version, n, transitions int) []models.Episode {
	out := make([]models.Episode, 0, n)
	meta, _ := json.Marshal(models.EpisodeMetadata{Confidence: 0.6, Transitions: transitions})
	for i := 0; i < n; i++ {
		out = append(out, models.Episode{
			SignalID: uint64(i + 1), Asset: asset, Version: version, Side: models.SideBuy,
			Status: models.EpisodeStatusClosed, Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100),
			PnL: decimal.NewFromInt(1), RewardSum: 0.5, Metadata: meta,
		})
	}
	return out
}

func testConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		MinEpisodes: 10, MinTransitions: 32, MaxKLDivergence: 0.05, MaxCurriculumStage: 3,
		ClipRange: 0.2, TargetKL: 0.01, LearningRate: 0.0003,
		MinTrades: 100, MaxDrawdown: 0.15, MaxWinRateDrop: 0.05, MinWinRateGain: 0.02, MinSharpeGain: 0.1,
	}
}

func baseModels() *memModels {
	return newMemModels(
		models.TradingModel{Asset: "BTC", Version: 1, Status: models.ModelStatusActive, Weights: datatypes.JSON(`{"w":[1]}`), Metadata: datatypes.JSON(`{"curriculum_stage":1}`)},
	)
}

func TestEnsureShadowClonesActive(t *testing.T) {
	store := baseModels()
	m := &Manager{Config: testConfig(), Repo: store}
	shadow, err := m.EnsureShadow(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if shadow.Version != 2 || shadow.Status != models.ModelStatusShadow || string(shadow.Weights) != `{"w":[1]}` {
		t.Fatalf("unexpected shadow %+v", shadow)
	}
	meta := parseMetadata(shadow.Metadata)
	if meta.ClonedFrom == nil || *meta.ClonedFrom != 1 || meta.CurriculumStage != 1 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if len(store.history) != 1 || store.history[0].Event != models.ModelEventCloned || store.history[0].Version != 2 {
		t.Fatalf("expected cloned history row, got %+v", store.history)
	}
	again, _ := m.EnsureShadow(context.Background(), "BTC")
	if again.Version != 2 || len(store.models) != 2 {
		t.Fatalf("existing shadow should be reused")
	}
}

func TestEnsureShadowWithoutActive(t *testing.T) {
	m := &Manager{Repo: newMemModels()}
	if _, err := m.EnsureShadow(context.Background(), "ETH"); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateSkipsWithInsufficientData(t *testing.T) {
	store := baseModels()
	m := &Manager{Config: testConfig(), Repo: store, Trainer: &stubTrainer{}}
	_, _ = m.EnsureShadow(context.Background(), "BTC")
	store.episodes = closedEpisodes("BTC", 2, 10, 3)
	res, err := m.Update(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !res.Skipped || res.Transitions != 30 {
		t.Fatalf("30 transitions is below the minimum: %+v", res)
	}
}

func TestUpdateDiscardsHighKLWithoutTouchingModel(t *testing.T) {
	store := baseModels()
	tr := &stubTrainer{result: trainer.Result{Weights: json.RawMessage(`{"w":[9]}`), KLDivergence: 0.08, AvgReward: 1}}
	m := &Manager{Config: testConfig(), Repo: store, Trainer: tr}
	_, _ = m.EnsureShadow(context.Background(), "BTC")
	store.episodes = closedEpisodes("BTC", 2, 12, 3)
	before := *store.model("BTC", 2)
	writes := store.writes

	res, err := m.Update(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !res.Discarded {
		t.Fatalf("expected discard, got %+v", res)
	}
	after := store.model("BTC", 2)
	if store.writes != writes || after.UpdateCount != before.UpdateCount || string(after.Weights) != string(before.Weights) || after.LastUpdateAt != nil {
		t.Fatalf("discarded update must not change the model")
	}
	if len(store.runs) != 1 || store.runs[0].Accepted {
		t.Fatalf("discard should be audited as not accepted: %+v", store.runs)
	}
}

func TestUpdateAcceptsAndAdvancesCurriculum(t *testing.T) {
	store := baseModels()
	tr := &stubTrainer{result: trainer.Result{Weights: json.RawMessage(`{"w":[2]}`), KLDivergence: 0.01, Entropy: 0.7, AvgReward: 0.4}}
	m := &Manager{Config: testConfig(), Repo: store, Trainer: tr}
	_, _ = m.EnsureShadow(context.Background(), "BTC")
	store.episodes = closedEpisodes("BTC", 2, 12, 3)

	res, err := m.Update(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	shadow := store.model("BTC", 2)
	if res.Discarded || shadow.UpdateCount != 1 || string(shadow.Weights) != `{"w":[2]}` || shadow.LastUpdateAt == nil {
		t.Fatalf("update not applied: %+v", shadow)
	}
	meta := parseMetadata(shadow.Metadata)
	if meta.CurriculumStage != 2 || meta.UpdateMetrics == nil || meta.UpdateMetrics.Transitions != 36 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	req := tr.calls[0]
	if len(req.Experiences) != 12 || req.Hyperparams.ClipRange != 0.2 || req.Hyperparams.CurriculumStage != 1 {
		t.Fatalf("unexpected trainer request %+v", req.Hyperparams)
	}
	if store.history[len(store.history)-1].Event != models.ModelEventUpdated {
		t.Fatalf("expected updated history row")
	}
}

func TestEvaluatePromotionSwapsVersions(t *testing.T) {
	store := baseModels()
	m := &Manager{Config: testConfig(), Repo: store}
	_, _ = m.EnsureShadow(context.Background(), "BTC")
	store.metrics[metricsKey("BTC", 2)] = models.ModelMetrics{Asset: "BTC", Version: 2, TotalTrades: 120, WinRate: 0.55, Sharpe: 1.3, MaxDD: 0.10}
	store.metrics[metricsKey("BTC", 1)] = models.ModelMetrics{Asset: "BTC", Version: 1, WinRate: 0.50, Sharpe: 1.1}

	res, err := m.EvaluatePromotion(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Promoted || res.ToVersion != 2 || *res.FromVersion != 1 {
		t.Fatalf("expected promotion, got %+v", res)
	}
	if store.model("BTC", 1).Status != models.ModelStatusDeprecated || store.model("BTC", 2).Status != models.ModelStatusActive {
		t.Fatalf("statuses not swapped")
	}
	ptr, _ := store.LatestRollbackPointer(context.Background(), "BTC", 2)
	if ptr == nil || ptr.RollbackVersion == nil || *ptr.RollbackVersion != 1 {
		t.Fatalf("rollback pointer missing: %+v", ptr)
	}

	back, err := m.Rollback(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if back.ToVersion != 1 || store.model("BTC", 1).Status != models.ModelStatusActive || store.model("BTC", 2).Status != models.ModelStatusDeprecated {
		t.Fatalf("rollback did not restore v1: %+v", back)
	}
}

func TestPromotionWithoutActiveIsUnconditional(t *testing.T) {
	store := newMemModels(models.TradingModel{Asset: "SOL", Version: 1, Status: models.ModelStatusShadow})
	m := &Manager{Config: testConfig(), Repo: store}
	res, err := m.EvaluatePromotion(context.Background(), "SOL")
	if err != nil || !res.Promoted || res.FromVersion != nil {
		t.Fatalf("first model should promote unconditionally: %+v %v", res, err)
	}
}

func TestFailedPromotionTransactionLeavesStatuses(t *testing.T) {
	store := baseModels()
	m := &Manager{Config: testConfig(), Repo: store}
	_, _ = m.EnsureShadow(context.Background(), "BTC")
	store.metrics[metricsKey("BTC", 2)] = models.ModelMetrics{Asset: "BTC", Version: 2, TotalTrades: 120, WinRate: 0.60, MaxDD: 0.05}
	store.failTx = true
	if _, err := m.EvaluatePromotion(context.Background(), "BTC"); err == nil {
		t.Fatalf("expected error")
	}
	if store.model("BTC", 1).Status != models.ModelStatusActive {
		t.Fatalf("active must survive a failed promotion")
	}
}

func TestRollbackWithoutPointer(t *testing.T) {
	m := &Manager{Repo: baseModels()}
	if _, err := m.Rollback(context.Background(), "BTC"); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRefreshMetrics(t *testing.T) {
	store := baseModels()
	store.episodes = closedEpisodes("BTC", 1, 4, 1)
	store.episodes[3].PnL = decimal.NewFromInt(-10)
	m := &Manager{Repo: store}
	if err := m.RefreshMetrics(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got := store.metrics[metricsKey("BTC", 1)]
	if got.TotalTrades != 4 || got.ProfitableTrades != 3 || got.WinRate != 0.75 {
		t.Fatalf("unexpected metrics %+v", got)
	}
	if got.MaxDD <= 0 {
		t.Fatalf("a losing trade should register drawdown")
	}
}
