package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

func (s *Store) InsertEpisode(ctx context.Context, item *models.Episode) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) ListOpenEpisodes(ctx context.Context, limit int) ([]models.Episode, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Episode
	err := s.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("status = ?", models.EpisodeStatusOpen).
		Order("start_ts asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CloseEpisode(ctx context.Context, id uint64, update repository.EpisodeClose) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	values := map[string]any{
		"status":     models.EpisodeStatusClosed,
		"exit_price": update.ExitPrice,
		"pnl":        update.PnL,
		"reward_sum": update.RewardSum,
		"end_ts":     update.EndTS,
	}
	if len(update.Metadata) > 0 {
		values["metadata"] = update.Metadata
	}
	res := s.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("id = ? AND status = ?", id, models.EpisodeStatusOpen).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListClosedEpisodes(ctx context.Context, asset string, version int, since *time.Time, limit int) ([]models.Episode, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Episode{}).
		Where("asset = ? AND version = ? AND status = ?", asset, version, models.EpisodeStatusClosed)
	if since != nil && !since.IsZero() {
		query = query.Where("end_ts > ?", *since)
	}
	var items []models.Episode
	if err := query.Order("end_ts desc").Limit(normalizeLimit(limit, 500)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListEpisodeVersions(ctx context.Context) ([]repository.AssetVersion, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []repository.AssetVersion
	err := s.db.WithContext(ctx).
		Model(&models.Episode{}).
		Distinct("asset", "version").
		Where("status = ?", models.EpisodeStatusClosed).
		Order("asset asc").
		Order("version asc").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
