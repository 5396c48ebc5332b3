package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type episodeStore struct {
	repository.EpisodeRepository
	open   []models.Episode
	closed map[uint64]repository.EpisodeClose
}

func (s *episodeStore) ListOpenEpisodes(context.Context, int) ([]models.Episode, error) {
	return s.open, nil
}

func (s *episodeStore) CloseEpisode(_ context.Context, id uint64, u repository.EpisodeClose) (bool, error) {
	if s.closed == nil {
		s.closed = map[uint64]repository.EpisodeClose{}
	}
	s.closed[id] = u
	return true, nil
}

type fixedPrices map[string]decimal.Decimal

func (f fixedPrices) Price(_ context.Context, asset string) (decimal.Decimal, string, error) {
	p, ok := f[asset]
	if !ok {
		return decimal.Zero, "", ErrNoPrice
	}
	return p, PriceSourceREST, nil
}

func episode(id uint64, side string, entry, sl, tp int64, start time.Time) models.Episode {
	meta, _ := json.Marshal(models.EpisodeMetadata{Confidence: 0.8})
	return models.Episode{
		ID: id, Asset: "BTC", Side: side, Status: models.EpisodeStatusOpen,
		Qty: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(entry),
		SL: price(sl), TP: price(tp), StartTS: start, Metadata: meta,
	}
}

func TestExitReason(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	long := episode(1, models.SideBuy, 100, 90, 120, start)
	short := episode(2, models.SideSell, 100, 110, 80, start)
	cases := []struct {
		ep    models.Episode
		price int64
		after time.Duration
		want  string
	}{
		{long, 121, time.Minute, ExitTakeProfit},
		{long, 90, time.Minute, ExitStopLoss},
		{long, 105, time.Minute, ""},
		{long, 105, 25 * time.Hour, ExitMaxHold},
		{short, 79, time.Minute, ExitTakeProfit},
		{short, 111, time.Minute, ExitStopLoss},
		{short, 0, 25 * time.Hour, ExitMaxHold},
	}
	for i, tc := range cases {
		got := ExitReason(tc.ep, decimal.NewFromInt(tc.price), start.Add(tc.after), 24*time.Hour)
		if got != tc.want {
			t.Fatalf("case %d: want %q, got %q", i, tc.want, got)
		}
	}
}

func TestCloseEpisodeScoresReward(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ep := episode(1, models.SideSell, 100, 110, 80, start)
	u := CloseEpisode(ep, decimal.NewFromInt(80), start.Add(30*time.Minute), ExitTakeProfit, 5*time.Minute)
	if !u.PnL.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("short pnl should be (100-80)*2, got %s", u.PnL)
	}
	if u.RewardSum <= 0 || u.RewardSum > 3 {
		t.Fatalf("winning trade reward out of range: %f", u.RewardSum)
	}
	var meta models.EpisodeMetadata
	_ = json.Unmarshal(u.Metadata, &meta)
	if meta.Transitions != 6 || meta.ExitReason != ExitTakeProfit || meta.Confidence != 0.8 {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	loss := CloseEpisode(episode(2, models.SideBuy, 100, 90, 120, start), decimal.NewFromInt(90), start.Add(time.Minute), ExitStopLoss, 5*time.Minute)
	if loss.RewardSum >= 0 {
		t.Fatalf("losing trade should score negative, got %f", loss.RewardSum)
	}
}

func TestTransitions(t *testing.T) {
	if Transitions(time.Minute, 5*time.Minute) != 1 || Transitions(time.Hour, 0) != 1 || Transitions(time.Hour, 5*time.Minute) != 12 {
		t.Fatalf("unexpected transition counts")
	}
}

func TestSettlerClosesDueEpisodes(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	store := &episodeStore{open: []models.Episode{
		episode(1, models.SideBuy, 100, 90, 120, now.Add(-time.Hour)),
		episode(2, models.SideBuy, 100, 90, 130, now.Add(-time.Hour)),
		{ID: 3, Asset: "ETH", Side: models.SideBuy, Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(10), StartTS: now.Add(-48 * time.Hour)},
	}}
	s := &Settler{
		Config: config.EpisodesConfig{MaxHold: 24 * time.Hour, TransitionInterval: 5 * time.Minute},
		Store:  store,
		Prices: fixedPrices{"BTC": decimal.NewFromInt(125)},
		Now:    func() time.Time { return now },
	}
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Checked != 3 || sum.Closed != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if _, ok := store.closed[2]; ok {
		t.Fatalf("episode 2 has not reached its target")
	}
	if !store.closed[3].ExitPrice.Equal(decimal.NewFromInt(10)) || !store.closed[3].PnL.IsZero() {
		t.Fatalf("expired episode without a quote closes flat: %+v", store.closed[3])
	}
}
