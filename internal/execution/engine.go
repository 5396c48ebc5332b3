// Package execution normalizes, signs and submits live signals to the
// execution endpoint with bounded retry.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/events"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

// Response is what the endpoint returned for one attempt. Status is 0 for
// transport failures.
type Response struct {
	Status  int
	Body    []byte
	Latency time.Duration
	Result  *Result
}

// Result is the 2xx body.
type Result struct {
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
}

type Endpoint interface {
	Submit(ctx context.Context, req SignedRequest) (Response, error)
}

type Guard interface {
	Guard(ctx context.Context, service string) error
	ReportSuccess(ctx context.Context, service string) error
	ReportFailure(ctx context.Context, service string) error
}

type CredentialOpener interface {
	OpenCredentials(sealed []byte) (json.RawMessage, error)
}

type Store interface {
	repository.SignalRepository
	repository.ExecutionRepository
	repository.EpisodeRepository
}

// Outcome is the terminal result of a signal that reached the engine.
type Outcome struct {
	SignalID   uint64
	Status     string
	Annotation string
	Attempts   int
	Execution  *models.Execution
	Err        error
}

func (o Outcome) Executed() bool { return o.Status == models.SignalStatusExecuted }

type Engine struct {
	Store       Store
	Endpoint    Endpoint
	Breaker     Guard
	Credentials CredentialOpener
	Publisher   events.Publisher
	Metrics     *metrics.Recorder
	Logger      *zap.Logger

	Signer      Signer
	Policy      Policy
	ServiceName string

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(cfg config.ExecutionConfig, store Store, endpoint Endpoint, guard Guard, creds CredentialOpener) *Engine {
	return &Engine{
		Store:       store,
		Endpoint:    endpoint,
		Breaker:     guard,
		Credentials: creds,
		Signer:      Signer{Secret: []byte(cfg.HMACSecret)},
		Policy: Policy{
			MaxAttempts: cfg.MaxAttempts,
			ResignDelay: cfg.ResignDelay,
			BackoffUnit: cfg.BackoffUnit,
		},
		ServiceName: cfg.ServiceName,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) service() string {
	if s := strings.TrimSpace(e.ServiceName); s != "" {
		return s
	}
	return "execution_endpoint"
}

// Execute drives one queued signal to a terminal state.
//
// A non-nil error means the signal was not resolved: CircuitOpenError before
// the first attempt leaves it queued, and between attempts leaves it sent.
// Storage errors leave it wherever the last write put it.
// Terminal business failures are reported in Outcome.Err.
func (e *Engine) Execute(ctx context.Context, sig models.Signal, broker models.BrokerConnection) (Outcome, error) {
	out := Outcome{SignalID: sig.ID}
	if e == nil || e.Store == nil || e.Endpoint == nil {
		return out, fmt.Errorf("execution engine not configured")
	}
	if sig.Status != models.SignalStatusQueued {
		return out, fmt.Errorf("signal %d is %s, not queued", sig.ID, sig.Status)
	}
	service := e.service()
	if e.Breaker != nil {
		if err := e.Breaker.Guard(ctx, service); err != nil {
			return out, err
		}
	}

	order, err := Normalize(sig, ConstraintsFor(broker))
	if err != nil {
		return e.failWithoutCall(ctx, sig, err)
	}
	payload := Payload{
		SignalID:   sig.ID,
		Asset:      sig.Asset,
		Symbol:     SymbolFor(broker, sig.Asset),
		Side:       sig.Side,
		Qty:        order.Qty,
		OrderType:  sig.OrderType,
		LimitPrice: order.LimitPrice,
		SL:         order.SL,
		TP:         order.TP,
		BrokerID:   broker.ID,
		UserID:     sig.UserID,
	}
	if e.Credentials != nil && len(broker.Credentials) > 0 {
		creds, err := e.Credentials.OpenCredentials(broker.Credentials)
		if err != nil {
			return e.failWithoutCall(ctx, sig, &apperr.ValidationError{Field: "credentials", Reason: err.Error()})
		}
		payload.Credentials = creds
	}

	ok, err := e.Store.TransitionSignal(ctx, sig.ID, models.SignalStatusSent, repository.SignalUpdate{At: e.now()})
	if err != nil {
		return out, fmt.Errorf("mark signal %d sent: %w", sig.ID, err)
	}
	if !ok {
		return out, fmt.Errorf("signal %d left queued concurrently", sig.ID)
	}

	// Once sent, only the protocol decides the outcome. Each round trip is
	// bounded by the endpoint timeout.
	ctx = context.WithoutCancel(ctx)
	out.Status = models.SignalStatusSent

	policy := e.Policy.normalized()
	var last Response
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out.Attempts = attempt
		if attempt > 1 && e.Breaker != nil {
			if err := e.Breaker.Guard(ctx, service); err != nil {
				// No call is made while open. The signal stays sent and the
				// stuck-sent sweep resolves it.
				out.Attempts = attempt - 1
				if e.Logger != nil {
					e.Logger.Warn("circuit opened mid-retry, leaving signal sent",
						zap.Uint64("signal_id", sig.ID),
						zap.Int("attempts", out.Attempts),
						zap.Error(err),
					)
				}
				return out, err
			}
		}
		req, err := e.Signer.Sign(payload)
		if err != nil {
			lastErr = err
			break
		}
		resp, err := e.Endpoint.Submit(ctx, req)
		if err != nil {
			resp.Status = 0
			if len(resp.Body) == 0 {
				resp.Body = []byte(err.Error())
			}
		}
		last = resp
		lastErr = classify(resp, err)
		e.Metrics.ObserveEndpoint(statusLabel(resp.Status), resp.Latency.Seconds())

		d := policy.Decide(resp.Status, policy.MaxAttempts-attempt)
		e.report(ctx, service, resp.Status, d, err)
		if e.Logger != nil {
			e.Logger.Debug("execution attempt",
				zap.Uint64("signal_id", sig.ID),
				zap.Int("attempt", attempt),
				zap.Int("status", resp.Status),
				zap.String("decision", d.Action.String()),
			)
		}
		switch d.Action {
		case Succeed:
			return e.succeed(ctx, sig, broker, order, resp, out, false)
		case DuplicateSucceed:
			return e.succeed(ctx, sig, broker, order, resp, out, true)
		case RetryResign, RetryImmediate, RetryBackoff:
			if err := e.sleep(ctx, d.Delay); err != nil {
				lastErr = err
				return e.fail(ctx, sig, broker, order, last, out, lastErr)
			}
			continue
		}
		break
	}
	return e.fail(ctx, sig, broker, order, last, out, lastErr)
}

// report feeds the breaker: success on 2xx/429, failure on transient errors
// and on exhausted re-sign retries. A cancelled call says nothing about the
// endpoint and is not reported.
func (e *Engine) report(ctx context.Context, service string, status int, d Decision, callErr error) {
	if e.Breaker == nil || errors.Is(callErr, context.Canceled) {
		return
	}
	var err error
	switch {
	case d.Action == Succeed || d.Action == DuplicateSucceed:
		err = e.Breaker.ReportSuccess(ctx, service)
	case status == 0 || status >= 500:
		err = e.Breaker.ReportFailure(ctx, service)
	case d.Action == Fail && (status == 400 || status == 401):
		err = e.Breaker.ReportFailure(ctx, service)
	}
	if err != nil && e.Logger != nil {
		e.Logger.Warn("breaker report failed", zap.String("service", service), zap.Error(err))
	}
}

func (e *Engine) succeed(ctx context.Context, sig models.Signal, broker models.BrokerConnection, order Order, resp Response, out Outcome, duplicate bool) (Outcome, error) {
	// The endpoint has accepted the order; the terminal write must land.
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	exec := &models.Execution{
		SignalID:    sig.ID,
		UserID:      sig.UserID,
		BrokerID:    broker.ID,
		Asset:       sig.Asset,
		Side:        sig.Side,
		Mode:        models.ExecutionModeLive,
		Shadow:      sig.Shadow,
		Qty:         order.Qty,
		LatencyMs:   resp.Latency.Milliseconds(),
		RawResponse: rawJSON(resp.Body),
		CreatedAt:   now,
	}
	if resp.Result != nil {
		exec.ExecutedPrice = resp.Result.ExecutedPrice
		exec.ExecutedQty = resp.Result.ExecutedQty
		exec.OrderID = resp.Result.OrderID
		exec.Status = strings.TrimSpace(resp.Result.Status)
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionStatusFilled
	}
	if exec.ExecutedQty.IsZero() {
		exec.ExecutedQty = order.Qty
	}
	if exec.ExecutedPrice.IsZero() && order.LimitPrice != nil {
		exec.ExecutedPrice = *order.LimitPrice
	}
	update := repository.SignalUpdate{At: now, Attempts: &out.Attempts}
	if duplicate {
		exec.Status = models.ExecutionStatusDuplicate
		ann := models.AnnotationDuplicate
		update.Annotation = &ann
		out.Annotation = ann
	}
	if err := e.Store.InsertExecution(ctx, exec); err != nil {
		return out, fmt.Errorf("record execution for signal %d: %w", sig.ID, err)
	}
	if _, err := e.Store.TransitionSignal(ctx, sig.ID, models.SignalStatusExecuted, update); err != nil {
		return out, fmt.Errorf("mark signal %d executed: %w", sig.ID, err)
	}
	out.Status = models.SignalStatusExecuted
	out.Execution = exec

	if ep := OpenEpisode(sig, exec, order, now); ep != nil {
		if err := e.Store.InsertEpisode(ctx, ep); err != nil && e.Logger != nil {
			e.Logger.Warn("episode insert failed", zap.Uint64("signal_id", sig.ID), zap.Error(err))
		}
	}
	e.Metrics.RecordSignal(models.ExecutionModeLive, exec.Status)
	events.PublishBestEffort(ctx, e.Publisher, e.Logger, events.TopicExecutions, sig.Asset, exec)
	if e.Logger != nil {
		e.Logger.Info("signal executed",
			zap.Uint64("signal_id", sig.ID),
			zap.String("asset", sig.Asset),
			zap.String("status", exec.Status),
			zap.Int("attempts", out.Attempts),
		)
	}
	return out, nil
}

func (e *Engine) fail(ctx context.Context, sig models.Signal, broker models.BrokerConnection, order Order, last Response, out Outcome, cause error) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	now := e.now()
	if cause == nil {
		cause = &apperr.RejectedError{Status: last.Status, Body: string(last.Body)}
	}
	exec := &models.Execution{
		SignalID:    sig.ID,
		UserID:      sig.UserID,
		BrokerID:    broker.ID,
		Asset:       sig.Asset,
		Side:        sig.Side,
		Mode:        models.ExecutionModeLive,
		Shadow:      sig.Shadow,
		Qty:         order.Qty,
		Status:      models.ExecutionStatusRejected,
		LatencyMs:   last.Latency.Milliseconds(),
		RawResponse: rawJSON(last.Body),
		CreatedAt:   now,
	}
	if err := e.Store.InsertExecution(ctx, exec); err != nil {
		return out, fmt.Errorf("record rejection for signal %d: %w", sig.ID, err)
	}
	msg := cause.Error()
	if _, err := e.Store.TransitionSignal(ctx, sig.ID, models.SignalStatusFailed, repository.SignalUpdate{
		At:           now,
		Attempts:     &out.Attempts,
		ErrorMessage: &msg,
	}); err != nil {
		return out, fmt.Errorf("mark signal %d failed: %w", sig.ID, err)
	}
	out.Status = models.SignalStatusFailed
	out.Execution = exec
	out.Err = cause
	e.Metrics.RecordSignal(models.ExecutionModeLive, models.ExecutionStatusRejected)
	events.PublishBestEffort(ctx, e.Publisher, e.Logger, events.TopicExecutions, sig.Asset, exec)
	if e.Logger != nil {
		e.Logger.Warn("signal failed",
			zap.Uint64("signal_id", sig.ID),
			zap.String("asset", sig.Asset),
			zap.Int("attempts", out.Attempts),
			zap.Error(cause),
		)
	}
	return out, nil
}

// failWithoutCall resolves a signal that never reached the endpoint.
func (e *Engine) failWithoutCall(ctx context.Context, sig models.Signal, cause error) (Outcome, error) {
	msg := cause.Error()
	if _, err := e.Store.TransitionSignal(ctx, sig.ID, models.SignalStatusFailed, repository.SignalUpdate{
		At:           e.now(),
		ErrorMessage: &msg,
	}); err != nil {
		return Outcome{SignalID: sig.ID}, fmt.Errorf("mark signal %d failed: %w", sig.ID, err)
	}
	e.Metrics.RecordSignal(models.ExecutionModeLive, "invalid")
	if e.Logger != nil {
		e.Logger.Info("signal rejected before send", zap.Uint64("signal_id", sig.ID), zap.Error(cause))
	}
	return Outcome{SignalID: sig.ID, Status: models.SignalStatusFailed, Err: cause}, nil
}

func classify(resp Response, err error) error {
	body := string(resp.Body)
	switch {
	case err != nil:
		return &apperr.TransientError{Status: 0, Err: err}
	case resp.Status >= 200 && resp.Status < 300:
		return nil
	case resp.Status == 429:
		return &apperr.DuplicateError{Body: body}
	case resp.Status == 401:
		return &apperr.AuthError{Body: body}
	case resp.Status == 400:
		return &apperr.StaleRequestError{Body: body}
	case resp.Status >= 500:
		return &apperr.TransientError{Status: resp.Status, Err: errors.New(body)}
	default:
		return &apperr.RejectedError{Status: resp.Status, Body: body}
	}
}

func statusLabel(status int) string {
	if status == 0 {
		return "network"
	}
	return fmt.Sprintf("%dxx", status/100)
}

func rawJSON(body []byte) datatypes.JSON {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	b, _ := json.Marshal(map[string]string{"error": string(body)})
	return datatypes.JSON(b)
}

// SymbolFor maps an asset to the broker-native symbol, defaulting to the asset.
func SymbolFor(broker models.BrokerConnection, asset string) string {
	if len(broker.SymbolMap) == 0 {
		return asset
	}
	var m map[string]string
	if err := json.Unmarshal(broker.SymbolMap, &m); err != nil {
		return asset
	}
	if v := strings.TrimSpace(m[asset]); v != "" {
		return v
	}
	return asset
}
