package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/apperr"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/events"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/execution"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

// PaperSettler fills paper signals at the current market price without
// touching the execution endpoint.
type PaperSettler struct {
	Store     execution.Store
	Prices    *Prices
	Publisher events.Publisher
	Metrics   *metrics.Recorder
	Logger    *zap.Logger
	Now       func() time.Time
}

func (p *PaperSettler) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *PaperSettler) Fill(ctx context.Context, sig models.Signal, broker models.BrokerConnection) (execution.Outcome, error) {
	out := execution.Outcome{SignalID: sig.ID}
	if p == nil || p.Store == nil {
		return out, errors.New("paper settler not configured")
	}
	if sig.Status != models.SignalStatusQueued {
		return out, fmt.Errorf("signal %d is %s, not queued", sig.ID, sig.Status)
	}
	order, err := execution.Normalize(sig, execution.ConstraintsFor(broker))
	if err != nil {
		return p.reject(ctx, sig, err)
	}

	price, source, err := p.Prices.Price(ctx, sig.Asset)
	if err != nil {
		if p.Logger != nil && !errors.Is(err, ErrNoPrice) {
			p.Logger.Warn("paper price lookup failed", zap.String("asset", sig.Asset), zap.Error(err))
		}
		if order.LimitPrice == nil || !order.LimitPrice.IsPositive() {
			return p.reject(ctx, sig, &apperr.ValidationError{Field: "price", Reason: "no market price for paper fill"})
		}
		price, source = *order.LimitPrice, PriceSourceLimit
	}

	now := p.now()
	fill := &models.PaperFill{
		SignalID:    sig.ID,
		UserID:      sig.UserID,
		Asset:       sig.Asset,
		Side:        sig.Side,
		Qty:         order.Qty,
		Price:       price,
		PriceSource: source,
		CreatedAt:   now,
	}
	if err := p.Store.InsertPaperFill(ctx, fill); err != nil {
		return out, fmt.Errorf("record paper fill for signal %d: %w", sig.ID, err)
	}
	raw, _ := json.Marshal(map[string]any{"price_source": source, "paper": true})
	exec := &models.Execution{
		SignalID:      sig.ID,
		UserID:        sig.UserID,
		BrokerID:      broker.ID,
		Asset:         sig.Asset,
		Side:          sig.Side,
		Mode:          models.ExecutionModePaper,
		Shadow:        sig.Shadow,
		Qty:           order.Qty,
		ExecutedPrice: price,
		ExecutedQty:   order.Qty,
		OrderID:       fmt.Sprintf("paper-%d", sig.ID),
		Status:        models.ExecutionStatusFilled,
		RawResponse:   datatypes.JSON(raw),
		CreatedAt:     now,
	}
	if err := p.Store.InsertExecution(ctx, exec); err != nil {
		return out, fmt.Errorf("record paper execution for signal %d: %w", sig.ID, err)
	}
	if _, err := p.Store.TransitionSignal(ctx, sig.ID, models.SignalStatusExecuted, repository.SignalUpdate{At: now}); err != nil {
		return out, fmt.Errorf("mark signal %d executed: %w", sig.ID, err)
	}
	if ep := execution.OpenEpisode(sig, exec, order, now); ep != nil {
		if err := p.Store.InsertEpisode(ctx, ep); err != nil && p.Logger != nil {
			p.Logger.Warn("episode insert failed", zap.Uint64("signal_id", sig.ID), zap.Error(err))
		}
	}
	p.Metrics.RecordSignal(models.ExecutionModePaper, exec.Status)
	events.PublishBestEffort(ctx, p.Publisher, p.Logger, events.TopicExecutions, sig.Asset, exec)

	out.Status = models.SignalStatusExecuted
	out.Execution = exec
	return out, nil
}

func (p *PaperSettler) reject(ctx context.Context, sig models.Signal, cause error) (execution.Outcome, error) {
	msg := cause.Error()
	if _, err := p.Store.TransitionSignal(ctx, sig.ID, models.SignalStatusFailed, repository.SignalUpdate{
		At:           p.now(),
		ErrorMessage: &msg,
	}); err != nil {
		return execution.Outcome{SignalID: sig.ID}, fmt.Errorf("mark signal %d failed: %w", sig.ID, err)
	}
	p.Metrics.RecordSignal(models.ExecutionModePaper, "invalid")
	return execution.Outcome{SignalID: sig.ID, Status: models.SignalStatusFailed, Err: cause}, nil
}
