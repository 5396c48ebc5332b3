// Package safety evaluates per-asset health thresholds and pauses trading
// for an asset when a critical threshold is breached.
package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/alerts"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/opslog"
)

// PausedBy marks preferences disabled by the monitor.
const PausedBy = "safety_monitor"

type Store interface {
	ListModelsByStatus(ctx context.Context, status string) ([]models.TradingModel, error)
	GetModelByStatus(ctx context.Context, asset, status string) (*models.TradingModel, error)
	GetModelMetrics(ctx context.Context, asset string, version int) (*models.ModelMetrics, error)
	ListRecentExecutionStatuses(ctx context.Context, asset string, limit int) ([]string, error)
	AverageExecutionLatency(ctx context.Context, asset string, since time.Time) (float64, int64, error)
	HasOpenSafetyAlert(ctx context.Context, asset, alertType string, since time.Time) (bool, error)
	DisableAssetPreferences(ctx context.Context, asset, pausedBy string, at time.Time) (int64, error)
}

type Monitor struct {
	Config  config.SafetyConfig
	Store   Store
	Alerts  alerts.Raiser
	OpsLog  *opslog.Recorder
	Metrics *metrics.Recorder
	Logger  *zap.Logger
	Now     func() time.Time
}

// Finding is one breached threshold. Duplicate is set when an open alert of
// the same type already existed and nothing new was appended.
type Finding struct {
	Asset     string  `json:"asset"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Duplicate bool    `json:"duplicate,omitempty"`
	Paused    int64   `json:"paused,omitempty"`
}

type Report struct {
	CycleID  string    `json:"cycle_id"`
	Assets   int       `json:"assets"`
	Findings []Finding `json:"findings"`
	Errors   []string  `json:"errors,omitempty"`
}

type breach struct {
	apperr.SafetyBreach
	severity string
	message  string
	pause    bool
}

type thresholds struct {
	maxDrawdown      float64
	failureStreak    int
	minWinRate       float64
	minTrades        int
	maxLatencyMs     float64
	latencyWindow    time.Duration
	shadowStaleAfter time.Duration
	dedupWindow      time.Duration
}

func (m *Monitor) thresholds() thresholds {
	t := thresholds{
		maxDrawdown:      m.Config.MaxDrawdown,
		failureStreak:    m.Config.ConsecutiveFailures,
		minWinRate:       m.Config.MinWinRate,
		minTrades:        m.Config.MinTradesForWinRate,
		maxLatencyMs:     m.Config.MaxAvgLatencyMs,
		latencyWindow:    m.Config.LatencyWindow,
		shadowStaleAfter: m.Config.ShadowStaleAfter,
		dedupWindow:      m.Config.DedupWindow,
	}
	if t.maxDrawdown <= 0 {
		t.maxDrawdown = 0.10
	}
	if t.failureStreak <= 0 {
		t.failureStreak = 5
	}
	if t.minWinRate <= 0 {
		t.minWinRate = 0.40
	}
	if t.minTrades <= 0 {
		t.minTrades = 20
	}
	if t.maxLatencyMs <= 0 {
		t.maxLatencyMs = 2000
	}
	if t.latencyWindow <= 0 {
		t.latencyWindow = time.Hour
	}
	if t.shadowStaleAfter <= 0 {
		t.shadowStaleAfter = 48 * time.Hour
	}
	if t.dedupWindow <= 0 {
		t.dedupWindow = time.Hour
	}
	return t
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Check evaluates every asset with an active model. Breaches are recorded as
// alerts and never returned as errors.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	report := Report{CycleID: uuid.NewString()}
	if m == nil || m.Store == nil {
		return report, nil
	}
	startedAt := m.now()
	active, err := m.Store.ListModelsByStatus(ctx, models.ModelStatusActive)
	if err != nil {
		return report, fmt.Errorf("list active models: %w", err)
	}
	t := m.thresholds()
	seen := map[string]bool{}
	for _, model := range active {
		if seen[model.Asset] {
			continue
		}
		seen[model.Asset] = true
		if ctx.Err() != nil {
			break
		}
		report.Assets++
		for _, b := range m.evaluate(ctx, model, t, &report) {
			report.Findings = append(report.Findings, m.handle(ctx, b, t, &report))
		}
	}
	sort.SliceStable(report.Findings, func(i, j int) bool {
		return models.SeverityRank(report.Findings[i].Severity) < models.SeverityRank(report.Findings[j].Severity)
	})

	status := models.OperationStatusOK
	if len(report.Errors) > 0 {
		status = models.OperationStatusPartial
	}
	details, _ := json.Marshal(report)
	if err := m.OpsLog.Record(ctx, &models.OperationLog{
		CycleID:    report.CycleID,
		Operation:  models.OperationSafetyCheck,
		Status:     status,
		Details:    details,
		StartedAt:  startedAt,
		FinishedAt: m.now(),
	}); err != nil && m.Logger != nil {
		m.Logger.Warn("safety check log failed", zap.Error(err))
	}
	m.Metrics.ObserveCycle(models.OperationSafetyCheck, status, m.now().Sub(startedAt).Seconds())
	return report, nil
}

func (m *Monitor) evaluate(ctx context.Context, model models.TradingModel, t thresholds, report *Report) []breach {
	asset := model.Asset
	now := m.now()
	var out []breach
	fail := func(what string, err error) {
		report.Errors = append(report.Errors, fmt.Sprintf("%s %s: %v", asset, what, err))
		if m.Logger != nil {
			m.Logger.Warn("safety check failed", zap.String("asset", asset), zap.String("check", what), zap.Error(err))
		}
	}

	mm, err := m.Store.GetModelMetrics(ctx, asset, model.Version)
	if err != nil {
		fail("metrics", err)
	}
	if mm != nil && mm.MaxDD > t.maxDrawdown {
		out = append(out, breach{
			SafetyBreach: apperr.SafetyBreach{Asset: asset, Type: models.AlertMaxDrawdown, Value: mm.MaxDD, Threshold: t.maxDrawdown},
			severity:     models.SeverityCritical,
			message:      fmt.Sprintf("%s drawdown %.2f%% exceeds %.2f%%", asset, mm.MaxDD*100, t.maxDrawdown*100),
			pause:        true,
		})
	}

	statuses, err := m.Store.ListRecentExecutionStatuses(ctx, asset, t.failureStreak)
	if err != nil {
		fail("executions", err)
	}
	if streak := failureStreak(statuses); streak >= t.failureStreak {
		out = append(out, breach{
			SafetyBreach: apperr.SafetyBreach{Asset: asset, Type: models.AlertConsecutiveFailures, Value: float64(streak), Threshold: float64(t.failureStreak)},
			severity:     models.SeverityCritical,
			message:      fmt.Sprintf("%s has %d consecutive failed executions", asset, streak),
			pause:        true,
		})
	}

	if mm != nil && mm.TotalTrades >= t.minTrades && mm.WinRate < t.minWinRate {
		out = append(out, breach{
			SafetyBreach: apperr.SafetyBreach{Asset: asset, Type: models.AlertLowWinRate, Value: mm.WinRate, Threshold: t.minWinRate},
			severity:     models.SeverityWarning,
			message:      fmt.Sprintf("%s win rate %.2f%% over %d trades", asset, mm.WinRate*100, mm.TotalTrades),
		})
	}

	avg, samples, err := m.Store.AverageExecutionLatency(ctx, asset, now.Add(-t.latencyWindow))
	if err != nil {
		fail("latency", err)
	} else if samples > 0 && avg > t.maxLatencyMs {
		out = append(out, breach{
			SafetyBreach: apperr.SafetyBreach{Asset: asset, Type: models.AlertHighLatency, Value: avg, Threshold: t.maxLatencyMs},
			severity:     models.SeverityWarning,
			message:      fmt.Sprintf("%s average execution latency %.0fms over %d executions", asset, avg, samples),
		})
	}

	shadow, err := m.Store.GetModelByStatus(ctx, asset, models.ModelStatusShadow)
	if err != nil {
		fail("shadow", err)
	}
	if shadow != nil {
		last := shadow.CreatedAt
		if shadow.LastUpdateAt != nil {
			last = *shadow.LastUpdateAt
		}
		if age := now.Sub(last); !last.IsZero() && age > t.shadowStaleAfter {
			out = append(out, breach{
				SafetyBreach: apperr.SafetyBreach{Asset: asset, Type: models.AlertStaleShadow, Value: age.Hours(), Threshold: t.shadowStaleAfter.Hours()},
				severity:     models.SeverityInfo,
				message:      fmt.Sprintf("%s shadow v%d not updated for %.0fh", asset, shadow.Version, age.Hours()),
			})
		}
	}
	return out
}

// failureStreak counts rejected/cancelled statuses from the most recent one
// until the first success.
func failureStreak(statuses []string) int {
	n := 0
	for _, s := range statuses {
		if !models.IsFailedExecutionStatus(s) {
			break
		}
		n++
	}
	return n
}

func (m *Monitor) handle(ctx context.Context, b breach, t thresholds, report *Report) Finding {
	now := m.now()
	f := Finding{
		Asset:     b.Asset,
		Type:      b.Type,
		Severity:  b.severity,
		Message:   b.message,
		Value:     b.Value,
		Threshold: b.Threshold,
	}
	open, err := m.Store.HasOpenSafetyAlert(ctx, b.Asset, b.Type, now.Add(-t.dedupWindow))
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s dedup: %v", b.Asset, err))
	}
	f.Duplicate = open
	if !open && m.Alerts != nil {
		if err := m.Alerts.Raise(ctx, &models.SafetyAlert{
			Asset:     b.Asset,
			Type:      b.Type,
			Severity:  b.severity,
			Message:   b.message,
			Value:     b.Value,
			Threshold: b.Threshold,
			CreatedAt: now,
		}); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s alert: %v", b.Asset, err))
		}
	}
	if b.pause {
		f.Paused = m.pause(ctx, &b.SafetyBreach, report)
	}
	return f
}

// pause disables every enabled preference for the asset. Already disabled
// rows are untouched, so repeated pauses change nothing.
func (m *Monitor) pause(ctx context.Context, b *apperr.SafetyBreach, report *Report) int64 {
	now := m.now()
	changed, err := m.Store.DisableAssetPreferences(ctx, b.Asset, PausedBy, now)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s pause: %v", b.Asset, err))
		return 0
	}
	if changed == 0 {
		return 0
	}
	m.Metrics.RecordAutoPause(b.Asset, b.Type)
	if m.Logger != nil {
		m.Logger.Warn("asset auto-paused", zap.String("asset", b.Asset), zap.String("reason", b.Type), zap.Int64("preferences", changed))
	}
	details, _ := json.Marshal(map[string]any{
		"asset":       b.Asset,
		"reason":      b.Error(),
		"preferences": changed,
	})
	if err := m.OpsLog.Record(ctx, &models.OperationLog{
		CycleID:    report.CycleID,
		Operation:  models.OperationAutoPause,
		Status:     models.OperationStatusOK,
		Details:    details,
		StartedAt:  now,
		FinishedAt: now,
	}); err != nil && m.Logger != nil {
		m.Logger.Warn("auto-pause log failed", zap.String("asset", b.Asset), zap.Error(err))
	}
	return changed
}
