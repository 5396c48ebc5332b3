package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/lifecycle"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/safety"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/service"
)

type stubRepo struct {
	repository.Repository

	signals  map[uint64]models.Signal
	settings map[string]models.SystemSetting
	breakers []models.CircuitBreakerState
	lastList repository.ListSignalsParams
}

func (s *stubRepo) ListBreakerStates(context.Context) ([]models.CircuitBreakerState, error) {
	return s.breakers, nil
}

func (s *stubRepo) GetSignal(_ context.Context, id uint64) (*models.Signal, error) {
	sig, ok := s.signals[id]
	if !ok {
		return nil, nil
	}
	return &sig, nil
}

func (s *stubRepo) ListSignals(_ context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	s.lastList = params
	out := []models.Signal{}
	for _, sig := range s.signals {
		out = append(out, sig)
	}
	return out, nil
}

func (s *stubRepo) CountSignals(context.Context, repository.ListSignalsParams) (int64, error) {
	return int64(len(s.signals)), nil
}

func (s *stubRepo) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	s.settings[item.Key] = *item
	return nil
}

func (s *stubRepo) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *stubRepo) ListSystemSettings(context.Context, repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	out := []models.SystemSetting{}
	for _, v := range s.settings {
		out = append(out, v)
	}
	return out, nil
}

type stubLifecycle struct {
	rollbackErr error
}

func (l *stubLifecycle) EnsureShadow(_ context.Context, asset string) (*models.TradingModel, error) {
	return &models.TradingModel{Asset: asset, Version: 2, Status: models.ModelStatusShadow}, nil
}

func (l *stubLifecycle) EvaluatePromotion(_ context.Context, asset string) (lifecycle.PromotionResult, error) {
	return lifecycle.PromotionResult{}, &apperr.ValidationError{Field: "asset", Reason: "unknown " + asset}
}

func (l *stubLifecycle) Rollback(_ context.Context, asset string) (lifecycle.PromotionResult, error) {
	if l.rollbackErr != nil {
		return lifecycle.PromotionResult{}, l.rollbackErr
	}
	return lifecycle.PromotionResult{Asset: asset, Promoted: true, ToVersion: 1}, nil
}

type stubChecker struct{ calls int }

func (c *stubChecker) Check(context.Context) (safety.Report, error) {
	c.calls++
	return safety.Report{Assets: 1}, nil
}

func newTestRouter(repo *stubRepo, lc ModelLifecycle, checker SafetyChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	(&SignalHandler{Repo: repo}).Register(api)
	(&ModelHandler{Repo: repo, Lifecycle: lc}).Register(api)
	(&AlertHandler{Repo: repo, Monitor: checker}).Register(api)
	(&SystemSettingsHandler{Repo: repo, Settings: &service.SystemSettingsService{Repo: repo}}).Register(api)
	return r
}

func doRequest(r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, apiResponse) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSignalEndpoints(t *testing.T) {
	repo := &stubRepo{signals: map[uint64]models.Signal{
		7: {ID: 7, UserID: "u1", Asset: "BTC", Side: models.SideBuy, Qty: decimal.RequireFromString("0.5"), Status: models.SignalStatusQueued},
	}}
	r := newTestRouter(repo, nil, nil)

	w, resp := doRequest(r, http.MethodGet, "/api/v1/signals?asset=BTC&status=queued&limit=9999", nil)
	if w.Code != http.StatusOK || resp.Meta["total"].(float64) != 1 {
		t.Fatalf("list: %d %+v", w.Code, resp)
	}
	if repo.lastList.Asset == nil || *repo.lastList.Asset != "BTC" || repo.lastList.Limit != 500 {
		t.Fatalf("unexpected params %+v", repo.lastList)
	}
	if w, _ := doRequest(r, http.MethodGet, "/api/v1/signals/7", nil); w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	if w, _ := doRequest(r, http.MethodGet, "/api/v1/signals/8", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing signal: %d", w.Code)
	}
	if w, _ := doRequest(r, http.MethodGet, "/api/v1/signals/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
}

func TestModelErrorsMapToStatus(t *testing.T) {
	lc := &stubLifecycle{rollbackErr: apperr.NotFound("rollback pointer for BTC v3")}
	r := newTestRouter(&stubRepo{}, lc, nil)

	if w, _ := doRequest(r, http.MethodPost, "/api/v1/models/btc/rollback", nil); w.Code != http.StatusNotFound {
		t.Fatalf("rollback without pointer: %d", w.Code)
	}
	if w, _ := doRequest(r, http.MethodPost, "/api/v1/models/btc/evaluate", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("validation error: %d", w.Code)
	}
	lc.rollbackErr = errors.New("db down")
	if w, _ := doRequest(r, http.MethodPost, "/api/v1/models/btc/rollback", nil); w.Code != http.StatusBadGateway {
		t.Fatalf("other error: %d", w.Code)
	}
	w, resp := doRequest(r, http.MethodPost, "/api/v1/models/ETH/shadow", nil)
	data, _ := resp.Data.(map[string]any)
	if w.Code != http.StatusOK || data["Asset"] != "ETH" {
		t.Fatalf("ensure shadow: %d %+v", w.Code, resp)
	}
}

func TestAssetIsMatchedAsStored(t *testing.T) {
	lc := &stubLifecycle{}
	repo := &stubRepo{signals: map[uint64]models.Signal{}}
	r := newTestRouter(repo, lc, nil)

	w, resp := doRequest(r, http.MethodPost, "/api/v1/models/sol-usd/rollback", nil)
	data, _ := resp.Data.(map[string]any)
	if w.Code != http.StatusOK || data["asset"] != "sol-usd" {
		t.Fatalf("rollback: %d %+v", w.Code, resp)
	}
	doRequest(r, http.MethodGet, "/api/v1/signals?asset=sol-usd", nil)
	if repo.lastList.Asset == nil || *repo.lastList.Asset != "sol-usd" {
		t.Fatalf("asset filter rewritten: %+v", repo.lastList)
	}
}

func TestRunSafetyCheck(t *testing.T) {
	checker := &stubChecker{}
	r := newTestRouter(&stubRepo{}, nil, checker)
	if w, _ := doRequest(r, http.MethodPost, "/api/v1/alerts/check", nil); w.Code != http.StatusOK || checker.calls != 1 {
		t.Fatalf("check: %d calls=%d", w.Code, checker.calls)
	}
}

func TestKillSwitch(t *testing.T) {
	repo := &stubRepo{settings: map[string]models.SystemSetting{}}
	r := newTestRouter(repo, nil, nil)

	if w, _ := doRequest(r, http.MethodPut, "/api/v1/system-settings/kill-switch", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing enabled: %d", w.Code)
	}
	if w, _ := doRequest(r, http.MethodPut, "/api/v1/system-settings/kill-switch", map[string]any{"enabled": false}); w.Code != http.StatusOK {
		t.Fatalf("put: %d", w.Code)
	}
	_, resp := doRequest(r, http.MethodGet, "/api/v1/system-settings/kill-switch", nil)
	data, _ := resp.Data.(map[string]any)
	if data["trading_enabled"] != false {
		t.Fatalf("trading should be disabled: %+v", resp)
	}
	if w, _ := doRequest(r, http.MethodPut, "/api/v1/system-settings/executor-mode", map[string]any{"mode": "live"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid mode accepted: %d", w.Code)
	}
}

type stubSnapshot struct{ trading bool }

func (s stubSnapshot) Snapshot(context.Context) service.Snapshot {
	return service.Snapshot{Switches: map[string]bool{service.FeatureTrading: s.trading}}
}

func TestReadinessReportsBreakersAndKillSwitch(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer sqlDB.Close()
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}

	repo := &stubRepo{}
	h := &HealthHandler{DB: gdb, Breakers: repo, Settings: stubSnapshot{trading: true}}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r)

	readyz := func() (int, map[string]any) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		body := map[string]any{}
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		return w.Code, body
	}

	if code, body := readyz(); code != http.StatusOK || body["status"] != "ready" || body["trading_enabled"] != true {
		t.Fatalf("healthy: %d %+v", code, body)
	}

	repo.breakers = []models.CircuitBreakerState{
		{ServiceName: "execution_endpoint", Status: models.BreakerOpen},
		{ServiceName: "other", Status: models.BreakerClosed},
	}
	code, body := readyz()
	open, _ := body["open_breakers"].([]any)
	if code != http.StatusOK || body["status"] != "degraded" || len(open) != 1 || open[0] != "execution_endpoint" {
		t.Fatalf("open breaker: %d %+v", code, body)
	}

	repo.breakers = nil
	h.Settings = stubSnapshot{trading: false}
	if code, body := readyz(); code != http.StatusOK || body["status"] != "degraded" || body["trading_enabled"] != false {
		t.Fatalf("kill switch: %d %+v", code, body)
	}

	h.DB = nil
	if code, _ := readyz(); code != http.StatusServiceUnavailable {
		t.Fatalf("missing db should not be ready: %d", code)
	}
}
