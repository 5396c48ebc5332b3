// Package orchestrator runs the periodic trading cycle: it drains queued
// signals, asks the generator for new ones and routes each to paper
// settlement or the live execution engine.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/client/generator"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/events"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/execution"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/opslog"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/risk"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/service"
)

type Store interface {
	repository.SignalRepository
	repository.ModelRepository
	repository.PreferenceRepository
}

type Generator interface {
	Generate(ctx context.Context, req generator.Request) ([]generator.Signal, error)
}

// Executor resolves one queued signal. Both the live engine and the paper
// settler satisfy it.
type Executor interface {
	Execute(ctx context.Context, sig models.Signal, broker models.BrokerConnection) (execution.Outcome, error)
}

type Settings interface {
	Snapshot(ctx context.Context) service.Snapshot
}

type paperExecutor struct{ *PaperSettler }

func (p paperExecutor) Execute(ctx context.Context, sig models.Signal, broker models.BrokerConnection) (execution.Outcome, error) {
	return p.Fill(ctx, sig, broker)
}

type Orchestrator struct {
	Config    config.OrchestratorConfig
	Store     Store
	Settings  Settings
	Generator Generator
	Live      Executor
	Paper     Executor
	Prices    *Prices
	Risk      *risk.Manager
	Lease     Lease
	OpsLog    *opslog.Recorder
	Publisher events.Publisher
	Metrics   *metrics.Recorder
	Logger    *zap.Logger
	Now       func() time.Time

	running sync.Mutex
}

// NewPaperExecutor adapts a PaperSettler to the Executor interface.
func NewPaperExecutor(p *PaperSettler) Executor { return paperExecutor{p} }

// CycleSummary is what one RunCycle did. It is also the OperationLog details.
type CycleSummary struct {
	CycleID          string   `json:"cycle_id"`
	Status           string   `json:"status"`
	Reason           string   `json:"reason,omitempty"`
	UsersProcessed   int      `json:"users_processed"`
	SignalsGenerated int      `json:"signals_generated"`
	SignalsDrained   int      `json:"signals_drained"`
	TradesExecuted   int      `json:"trades_executed"`
	TradesFailed     int      `json:"trades_failed"`
	SignalsDeferred  int      `json:"signals_deferred"`
	SentSwept        int      `json:"sent_swept"`
	Errors           []string `json:"errors,omitempty"`
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) drainLimit() int {
	if o.Config.DrainLimit > 0 {
		return o.Config.DrainLimit
	}
	return 200
}

func (o *Orchestrator) workers() int {
	if o.Config.MaxParallelUsers > 0 {
		return o.Config.MaxParallelUsers
	}
	return 4
}

// RunCycle performs one orchestration pass. The cycle is always recorded to
// the operation log, including skipped and panicked cycles.
func (o *Orchestrator) RunCycle(ctx context.Context) (summary CycleSummary, err error) {
	if o == nil || o.Store == nil {
		return CycleSummary{}, errors.New("orchestrator not configured")
	}
	if !o.running.TryLock() {
		return CycleSummary{Status: models.OperationStatusSkipped, Reason: "cycle already running"}, nil
	}
	defer o.running.Unlock()

	started := o.now()
	summary = CycleSummary{CycleID: uuid.NewString(), Status: models.OperationStatusOK}
	defer func() {
		if r := recover(); r != nil {
			summary.Status = models.OperationStatusFailed
			summary.Reason = fmt.Sprintf("panic: %v", r)
			err = fmt.Errorf("orchestrator cycle panicked: %v", r)
			if o.Logger != nil {
				o.Logger.Error("orchestrator cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
		}
		o.finish(ctx, started, summary)
	}()

	if o.Lease != nil {
		ok, lerr := o.Lease.Acquire(ctx)
		if lerr != nil {
			summary.Status = models.OperationStatusFailed
			summary.Reason = "lease: " + lerr.Error()
			return summary, lerr
		}
		if !ok {
			summary.Status = models.OperationStatusSkipped
			summary.Reason = "lease held by another instance"
			return summary, nil
		}
		defer func() {
			if rerr := o.Lease.Release(context.WithoutCancel(ctx)); rerr != nil && o.Logger != nil {
				o.Logger.Warn("lease release failed", zap.Error(rerr))
			}
		}()
	}

	snap := service.Snapshot{}
	if o.Settings != nil {
		snap = o.Settings.Snapshot(ctx)
	} else {
		snap.Switches = service.DefaultFeatureSwitches()
	}
	if !snap.TradingEnabled() {
		summary.Status = models.OperationStatusSkipped
		summary.Reason = "kill switch"
		return summary, nil
	}

	summary.SentSwept = o.sweepSent(ctx, &summary)

	plan, perr := o.plan(ctx)
	if perr != nil {
		summary.Status = models.OperationStatusFailed
		summary.Reason = perr.Error()
		return summary, perr
	}
	summary.SignalsDrained = plan.queued

	var mu sync.Mutex
	sem := make(chan struct{}, o.workers())
	var wg sync.WaitGroup
	for _, w := range plan.users {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res := o.processUser(ctx, snap, plan, w)
			mu.Lock()
			summary.merge(res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(summary.Errors) > 0 {
		summary.Status = models.OperationStatusPartial
	}
	return summary, nil
}

func (s *CycleSummary) merge(r userResult) {
	s.UsersProcessed++
	s.SignalsGenerated += r.generated
	s.TradesExecuted += r.executed
	s.TradesFailed += r.failed
	s.SignalsDeferred += r.deferred
	s.Errors = append(s.Errors, r.errors...)
}

func (o *Orchestrator) finish(ctx context.Context, started time.Time, summary CycleSummary) {
	finished := o.now()
	details, _ := json.Marshal(summary)
	item := &models.OperationLog{
		CycleID:          summary.CycleID,
		Operation:        models.OperationOrchestratorCycle,
		Status:           summary.Status,
		UsersProcessed:   summary.UsersProcessed,
		SignalsGenerated: summary.SignalsGenerated,
		TradesExecuted:   summary.TradesExecuted,
		TradesFailed:     summary.TradesFailed,
		Details:          datatypes.JSON(details),
		StartedAt:        started,
		FinishedAt:       finished,
	}
	if err := o.OpsLog.Record(ctx, item); err != nil && o.Logger != nil {
		o.Logger.Warn("cycle log write failed", zap.String("cycle_id", summary.CycleID), zap.Error(err))
	}
	o.Metrics.ObserveCycle(models.OperationOrchestratorCycle, summary.Status, finished.Sub(started).Seconds())
	events.PublishBestEffort(context.WithoutCancel(ctx), o.Publisher, o.Logger, events.TopicCycles, summary.CycleID, summary)
	if o.Logger != nil {
		o.Logger.Info("orchestrator cycle finished",
			zap.String("cycle_id", summary.CycleID),
			zap.String("status", summary.Status),
			zap.String("reason", summary.Reason),
			zap.Int("users", summary.UsersProcessed),
			zap.Int("generated", summary.SignalsGenerated),
			zap.Int("executed", summary.TradesExecuted),
			zap.Int("failed", summary.TradesFailed),
			zap.Int("deferred", summary.SignalsDeferred),
		)
	}
}

// sweepSent fails signals stuck in sent. They are never re-sent since the
// endpoint may already have them.
func (o *Orchestrator) sweepSent(ctx context.Context, summary *CycleSummary) int {
	timeout := o.Config.SentTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	now := o.now()
	stuck, err := o.Store.ListSentSignalsBefore(ctx, now.Add(-timeout), o.drainLimit())
	if err != nil {
		summary.Errors = append(summary.Errors, "sweep: "+err.Error())
		return 0
	}
	swept := 0
	msg := fmt.Sprintf("no terminal response within %s", timeout)
	for _, sig := range stuck {
		ok, err := o.Store.TransitionSignal(ctx, sig.ID, models.SignalStatusFailed, repository.SignalUpdate{At: now, ErrorMessage: &msg})
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("sweep signal %d: %v", sig.ID, err))
			continue
		}
		if ok {
			swept++
		}
	}
	if swept > 0 && o.Logger != nil {
		o.Logger.Warn("failed stuck sent signals", zap.Int("count", swept))
	}
	return swept
}

type userWork struct {
	UserID string
	Prefs  map[string]repository.TradablePreference
	Queued []models.Signal
}

type cyclePlan struct {
	users  []*userWork
	active map[string]models.TradingModel
	shadow map[string]models.TradingModel
	queued int
}

func (o *Orchestrator) plan(ctx context.Context) (*cyclePlan, error) {
	p := &cyclePlan{active: map[string]models.TradingModel{}, shadow: map[string]models.TradingModel{}}
	active, err := o.Store.ListModelsByStatus(ctx, models.ModelStatusActive)
	if err != nil {
		return nil, fmt.Errorf("load active models: %w", err)
	}
	for _, m := range active {
		if cur, ok := p.active[m.Asset]; !ok || m.Version > cur.Version {
			p.active[m.Asset] = m
		}
	}
	if o.Config.ShadowEvaluation {
		shadows, err := o.Store.ListModelsByStatus(ctx, models.ModelStatusShadow)
		if err != nil {
			return nil, fmt.Errorf("load shadow models: %w", err)
		}
		for _, m := range shadows {
			if cur, ok := p.shadow[m.Asset]; !ok || m.Version > cur.Version {
				p.shadow[m.Asset] = m
			}
		}
	}

	prefs, err := o.Store.ListTradablePreferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	byUser := map[string]*userWork{}
	get := func(userID string) *userWork {
		w, ok := byUser[userID]
		if !ok {
			w = &userWork{UserID: userID, Prefs: map[string]repository.TradablePreference{}}
			byUser[userID] = w
		}
		return w
	}
	for _, tp := range prefs {
		get(tp.Preference.UserID).Prefs[tp.Preference.Asset] = tp
	}

	queued, err := o.Store.ListQueuedSignals(ctx, o.drainLimit())
	if err != nil {
		return nil, fmt.Errorf("load queued signals: %w", err)
	}
	p.queued = len(queued)
	for _, sig := range queued {
		w := get(sig.UserID)
		w.Queued = append(w.Queued, sig)
	}

	for _, w := range byUser {
		p.users = append(p.users, w)
	}
	sort.Slice(p.users, func(i, j int) bool { return p.users[i].UserID < p.users[j].UserID })
	return p, nil
}

type userResult struct {
	generated int
	executed  int
	failed    int
	deferred  int
	errors    []string
}

func (r *userResult) errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

// userRun holds the per-user state of one cycle. It is owned by a single goroutine.
type userRun struct {
	o           *Orchestrator
	snap        service.Snapshot
	work        *userWork
	budget      *risk.Budget
	res         userResult
	liveBlocked bool
}

func (o *Orchestrator) processUser(ctx context.Context, snap service.Snapshot, plan *cyclePlan, w *userWork) (res userResult) {
	defer func() {
		if r := recover(); r != nil {
			res.errorf("user %s panicked: %v", w.UserID, r)
			if o.Logger != nil {
				o.Logger.Error("user processing panicked", zap.String("user_id", w.UserID), zap.Any("panic", r))
			}
		}
	}()

	prefs := make([]models.UserAssetPreference, 0, len(w.Prefs))
	for _, tp := range w.Prefs {
		prefs = append(prefs, tp.Preference)
	}
	budget, err := o.Risk.NewBudget(ctx, w.UserID, prefs, o.now())
	if err != nil {
		res.errorf("user %s exposure: %v", w.UserID, err)
		return res
	}
	run := &userRun{o: o, snap: snap, work: w, budget: budget}

	for _, sig := range w.Queued {
		if ctx.Err() != nil {
			return run.res
		}
		run.route(ctx, sig)
	}
	if ctx.Err() == nil {
		run.generate(ctx, plan)
	}
	return run.res
}

func (u *userRun) generate(ctx context.Context, plan *cyclePlan) {
	o := u.o
	if o.Generator == nil || len(u.work.Prefs) == 0 {
		return
	}
	req := generator.Request{UserID: u.work.UserID}
	assets := make([]string, 0, len(u.work.Prefs))
	for asset := range u.work.Prefs {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		m, ok := plan.active[asset]
		if !ok {
			continue
		}
		req.Assets = append(req.Assets, generator.AssetRequest{Asset: asset, ModelVersion: m.Version, Location: m.Location})
		if sm, ok := plan.shadow[asset]; ok {
			req.Assets = append(req.Assets, generator.AssetRequest{Asset: asset, ModelVersion: sm.Version, Location: sm.Location, Shadow: true})
		}
	}
	if len(req.Assets) == 0 {
		return
	}
	proposed, err := o.Generator.Generate(ctx, req)
	if err != nil {
		u.res.errorf("user %s generator: %v", u.work.UserID, err)
		if o.Logger != nil {
			o.Logger.Warn("signal generation failed", zap.String("user_id", u.work.UserID), zap.Error(err))
		}
		return
	}
	for _, gs := range proposed {
		if ctx.Err() != nil {
			return
		}
		tp, ok := u.work.Prefs[gs.Asset]
		if !ok {
			continue
		}
		if _, ok := plan.active[gs.Asset]; !ok {
			continue
		}
		if gs.ModelVersion == 0 {
			gs.ModelVersion = plan.active[gs.Asset].Version
			if sm, ok := plan.shadow[gs.Asset]; ok && gs.Shadow {
				gs.ModelVersion = sm.Version
			}
		}
		sig := signalFromGenerated(u.work.UserID, tp, gs)
		if err := o.Store.InsertSignal(ctx, &sig); err != nil {
			u.res.errorf("user %s insert signal: %v", u.work.UserID, err)
			continue
		}
		u.res.generated++
		u.route(ctx, sig)
	}
}

func signalFromGenerated(userID string, tp repository.TradablePreference, gs generator.Signal) models.Signal {
	side := strings.ToUpper(strings.TrimSpace(gs.Side))
	orderType := strings.ToLower(strings.TrimSpace(gs.OrderType))
	if orderType == "" {
		orderType = "limit"
	}
	return models.Signal{
		UserID:       userID,
		Asset:        gs.Asset,
		Side:         side,
		OrderType:    orderType,
		Qty:          gs.Qty,
		LimitPrice:   gs.LimitPrice,
		SL:           gs.SL,
		TP:           gs.TP,
		Confidence:   gs.Confidence,
		Status:       models.SignalStatusQueued,
		BrokerID:     tp.Broker.ID,
		ModelVersion: gs.ModelVersion,
		Shadow:       gs.Shadow,
	}
}

// route resolves one queued signal for the user.
func (u *userRun) route(ctx context.Context, sig models.Signal) {
	o := u.o
	tp, ok := u.work.Prefs[sig.Asset]
	if !ok {
		u.failSignal(ctx, sig, &apperr.ValidationError{Field: "asset", Reason: "trading disabled for asset"})
		return
	}
	if sig.Side != models.SideBuy && sig.Side != models.SideSell {
		u.failSignal(ctx, sig, &apperr.ValidationError{Field: "side", Reason: fmt.Sprintf("unsupported side %q", sig.Side)})
		return
	}
	mode := u.snap.ModeFor(tp.Preference.ExecutionMode)
	if sig.Shadow {
		mode = models.ExecutionModePaper
	}
	if mode == models.ExecutionModeLive && u.liveBlocked {
		u.res.deferred++
		return
	}

	notional := risk.Notional(sig.Qty, sig.LimitPrice, o.markFor(ctx, sig))
	if !sig.Shadow {
		if err := u.budget.Reserve(sig.Asset, notional); err != nil {
			u.failSignal(ctx, sig, err)
			return
		}
	}
	release := func() {
		if !sig.Shadow {
			u.budget.Release(sig.Asset, notional)
		}
	}

	exec := o.Paper
	if mode == models.ExecutionModeLive {
		exec = o.Live
	}
	if exec == nil {
		release()
		u.res.errorf("signal %d: no %s executor", sig.ID, mode)
		return
	}
	out, err := exec.Execute(ctx, sig, tp.Broker)
	if err != nil {
		release()
		var co *apperr.CircuitOpenError
		if errors.As(err, &co) {
			u.liveBlocked = true
			u.res.deferred++
			if o.Logger != nil {
				o.Logger.Info("circuit open, deferring user live batch",
					zap.String("user_id", u.work.UserID),
					zap.Duration("retry_after", co.RetryAfter),
				)
			}
			return
		}
		u.res.errorf("signal %d: %v", sig.ID, err)
		if o.Logger != nil {
			o.Logger.Warn("signal execution error", zap.Uint64("signal_id", sig.ID), zap.Error(err))
		}
		return
	}
	if out.Executed() {
		u.res.executed++
		return
	}
	release()
	u.res.failed++
}

// markFor is only consulted for market orders without a limit price.
func (o *Orchestrator) markFor(ctx context.Context, sig models.Signal) decimal.Decimal {
	if sig.LimitPrice != nil && sig.LimitPrice.IsPositive() {
		return decimal.Zero
	}
	return o.Prices.Mark(ctx, sig.Asset)
}

func (u *userRun) failSignal(ctx context.Context, sig models.Signal, cause error) {
	msg := cause.Error()
	if _, err := u.o.Store.TransitionSignal(ctx, sig.ID, models.SignalStatusFailed, repository.SignalUpdate{At: u.o.now(), ErrorMessage: &msg}); err != nil {
		u.res.errorf("signal %d: %v", sig.ID, err)
		return
	}
	u.res.failed++
	u.o.Metrics.RecordSignal("none", "invalid")
	if u.o.Logger != nil {
		u.o.Logger.Info("signal rejected", zap.Uint64("signal_id", sig.ID), zap.String("user_id", sig.UserID), zap.Error(cause))
	}
}
