package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/opslog"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/reward"
)

const (
	ExitTakeProfit = "take_profit"
	ExitStopLoss   = "stop_loss"
	ExitMaxHold    = "max_hold"
)

type PriceSource interface {
	Price(ctx context.Context, asset string) (decimal.Decimal, string, error)
}

// Settler closes open episodes when price crosses TP/SL or the hold expires,
// scoring each with the episode reward.
type Settler struct {
	Config  config.EpisodesConfig
	Store   repository.EpisodeRepository
	Prices  PriceSource
	OpsLog  *opslog.Recorder
	Metrics *metrics.Recorder
	Logger  *zap.Logger
	Now     func() time.Time
}

type SettlementSummary struct {
	Checked int `json:"checked"`
	Closed  int `json:"closed"`
	Skipped int `json:"skipped"`
}

func (s *Settler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Settler) maxHold() time.Duration {
	if s.Config.MaxHold > 0 {
		return s.Config.MaxHold
	}
	return 24 * time.Hour
}

func (s *Settler) Run(ctx context.Context) (SettlementSummary, error) {
	var sum SettlementSummary
	if s == nil || s.Store == nil {
		return sum, nil
	}
	started := s.now()
	limit := s.Config.BatchSize
	if limit <= 0 {
		limit = 200
	}
	open, err := s.Store.ListOpenEpisodes(ctx, limit)
	if err != nil {
		return sum, err
	}
	prices := map[string]decimal.Decimal{}
	for _, ep := range open {
		if ctx.Err() != nil {
			break
		}
		sum.Checked++
		price, ok := prices[ep.Asset]
		if !ok && s.Prices != nil {
			p, _, perr := s.Prices.Price(ctx, ep.Asset)
			if perr != nil && !errors.Is(perr, ErrNoPrice) && s.Logger != nil {
				s.Logger.Debug("settlement price lookup failed", zap.String("asset", ep.Asset), zap.Error(perr))
			}
			price = p
			prices[ep.Asset] = p
		}
		closed, err := s.settle(ctx, ep, price)
		if err != nil {
			sum.Skipped++
			if s.Logger != nil {
				s.Logger.Warn("episode settlement failed", zap.Uint64("episode_id", ep.ID), zap.Error(err))
			}
			continue
		}
		if closed {
			sum.Closed++
		}
	}
	if sum.Closed > 0 || sum.Skipped > 0 {
		details, _ := json.Marshal(sum)
		status := models.OperationStatusOK
		if sum.Skipped > 0 {
			status = models.OperationStatusPartial
		}
		_ = s.OpsLog.Record(ctx, &models.OperationLog{
			CycleID:    uuid.NewString(),
			Operation:  models.OperationEpisodeSettlement,
			Status:     status,
			Details:    datatypes.JSON(details),
			StartedAt:  started,
			FinishedAt: s.now(),
		})
	}
	s.Metrics.ObserveCycle(models.OperationEpisodeSettlement, models.OperationStatusOK, s.now().Sub(started).Seconds())
	return sum, nil
}

func (s *Settler) settle(ctx context.Context, ep models.Episode, price decimal.Decimal) (bool, error) {
	now := s.now()
	reason := ExitReason(ep, price, now, s.maxHold())
	if reason == "" {
		return false, nil
	}
	if !price.IsPositive() {
		// Hold expired with no quote: close flat at entry.
		price = ep.EntryPrice
	}
	update := CloseEpisode(ep, price, now, reason, s.Config.TransitionInterval)
	ok, err := s.Store.CloseEpisode(ctx, ep.ID, update)
	if err != nil {
		return false, fmt.Errorf("close episode %d: %w", ep.ID, err)
	}
	return ok, nil
}

// ExitReason returns why the episode should close at price, or "".
func ExitReason(ep models.Episode, price decimal.Decimal, now time.Time, maxHold time.Duration) string {
	if price.IsPositive() {
		long := ep.Side != models.SideSell
		if ep.TP != nil && ep.TP.IsPositive() {
			if (long && price.GreaterThanOrEqual(*ep.TP)) || (!long && price.LessThanOrEqual(*ep.TP)) {
				return ExitTakeProfit
			}
		}
		if ep.SL != nil && ep.SL.IsPositive() {
			if (long && price.LessThanOrEqual(*ep.SL)) || (!long && price.GreaterThanOrEqual(*ep.SL)) {
				return ExitStopLoss
			}
		}
	}
	if maxHold > 0 && now.Sub(ep.StartTS) >= maxHold {
		return ExitMaxHold
	}
	return ""
}

// CloseEpisode computes pnl, transitions and reward for an exit at price.
func CloseEpisode(ep models.Episode, exit decimal.Decimal, at time.Time, reason string, interval time.Duration) repository.EpisodeClose {
	move := exit.Sub(ep.EntryPrice)
	if ep.Side == models.SideSell {
		move = move.Neg()
	}
	pnl := move.Mul(ep.Qty)

	var meta models.EpisodeMetadata
	if len(ep.Metadata) > 0 {
		_ = json.Unmarshal(ep.Metadata, &meta)
	}
	meta.ExitReason = reason
	meta.Transitions = Transitions(at.Sub(ep.StartTS), interval)

	in := reward.Inputs{PnL: move.InexactFloat64(), Confidence: meta.Confidence, ATR: 1}
	if ep.SL != nil && ep.SL.IsPositive() {
		sl := ep.EntryPrice.Sub(*ep.SL).Abs()
		in.SLDist = sl.InexactFloat64()
		if sl.IsPositive() {
			in.ATR = in.SLDist
		}
	}
	if ep.TP != nil && ep.TP.IsPositive() {
		in.TPDist = ep.TP.Sub(ep.EntryPrice).Abs().InexactFloat64()
	}
	raw, _ := json.Marshal(meta)
	return repository.EpisodeClose{
		ExitPrice: exit,
		PnL:       pnl,
		RewardSum: reward.Score(in),
		EndTS:     at,
		Metadata:  datatypes.JSON(raw),
	}
}

// Transitions is the number of decision steps an episode spanned, at least one.
func Transitions(hold, interval time.Duration) int {
	if interval <= 0 || hold <= 0 {
		return 1
	}
	n := int(hold / interval)
	if n < 1 {
		return 1
	}
	return n
}
