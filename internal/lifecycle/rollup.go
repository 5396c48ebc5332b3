package lifecycle

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

// ComputeMetrics rolls closed episodes up into model metrics. Episodes may
// arrive in any order; the drawdown curve is built oldest first.
func ComputeMetrics(asset string, version int, episodes []models.Episode) models.ModelMetrics {
	m := models.ModelMetrics{Asset: asset, Version: version, TotalTrades: len(episodes)}
	if len(episodes) == 0 {
		return m
	}
	ordered := make([]models.Episode, len(episodes))
	copy(ordered, episodes)
	sortByEnd(ordered)

	equity, peak := 1.0, 1.0
	rewards := make([]float64, 0, len(ordered))
	for _, ep := range ordered {
		if ep.PnL.IsPositive() {
			m.ProfitableTrades++
		}
		rewards = append(rewards, ep.RewardSum)

		notional := ep.EntryPrice.Mul(ep.Qty).Abs()
		if notional.IsPositive() {
			equity *= 1 + ep.PnL.Div(notional).InexactFloat64()
		}
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > m.MaxDD {
				m.MaxDD = dd
			}
		}
	}
	m.WinRate = float64(m.ProfitableTrades) / float64(m.TotalTrades)
	m.Sharpe = sharpe(rewards)
	return m
}

func sortByEnd(eps []models.Episode) {
	end := func(e models.Episode) time.Time {
		if e.EndTS != nil {
			return *e.EndTS
		}
		return e.StartTS
	}
	sort.SliceStable(eps, func(i, j int) bool { return end(eps[i]).Before(end(eps[j])) })
}

// sharpe is mean over population stddev of per-episode reward.
func sharpe(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	std := math.Sqrt(ss / float64(len(xs)))
	if std == 0 {
		return 0
	}
	return mean / std
}

// RefreshMetrics recomputes metrics for every (asset, version) with closed episodes.
func (m *Manager) RefreshMetrics(ctx context.Context) error {
	if m == nil || m.Repo == nil {
		return nil
	}
	pairs, err := m.Repo.ListEpisodeVersions(ctx)
	if err != nil {
		m.logWarn("list episode versions failed", err)
		return err
	}
	for _, p := range pairs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		eps, err := m.Repo.ListClosedEpisodes(ctx, p.Asset, p.Version, nil, m.lookback())
		if err != nil {
			m.logWarn("list closed episodes failed", err, zap.String("asset", p.Asset), zap.Int("version", p.Version))
			continue
		}
		metrics := ComputeMetrics(p.Asset, p.Version, eps)
		metrics.UpdatedAt = m.now()
		if err := m.Repo.UpsertModelMetrics(ctx, &metrics); err != nil {
			m.logWarn("upsert model metrics failed", err, zap.String("asset", p.Asset), zap.Int("version", p.Version))
		}
	}
	return nil
}
