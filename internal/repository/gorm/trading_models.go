package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

func (s *Store) GetModelByStatus(ctx context.Context, asset, status string) (*models.TradingModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.TradingModel
	err := s.db.WithContext(ctx).
		Model(&models.TradingModel{}).
		Where("asset = ? AND status = ?", asset, status).
		Order("version desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetModelVersion(ctx context.Context, asset string, version int) (*models.TradingModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.TradingModel
	err := s.db.WithContext(ctx).
		Model(&models.TradingModel{}).
		Where("asset = ? AND version = ?", asset, version).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListModels(ctx context.Context, params repository.ListModelsParams) ([]models.TradingModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TradingModel{})
	if v, ok := trimmed(params.Asset); ok {
		query = query.Where("asset = ?", v)
	}
	if v, ok := trimmed(params.Status); ok {
		query = query.Where("status = ?", v)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "version", "version", "asset", "created_at", "updated_at")
	var items []models.TradingModel
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListModelsByStatus(ctx context.Context, status string) ([]models.TradingModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TradingModel
	err := s.db.WithContext(ctx).
		Model(&models.TradingModel{}).
		Where("status = ?", status).
		Order("asset asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MaxModelVersion(ctx context.Context, asset string) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var v *int
	err := s.db.WithContext(ctx).
		Model(&models.TradingModel{}).
		Select("MAX(version)").
		Where("asset = ?", asset).
		Row().Scan(&v)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return *v, nil
}

func (s *Store) InsertModel(ctx context.Context, item *models.TradingModel, history *models.ModelVersionHistory) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		if history == nil {
			return nil
		}
		history.Asset = item.Asset
		history.Version = item.Version
		return tx.Create(history).Error
	})
}

func (s *Store) ApplyModelUpdate(ctx context.Context, id uint64, update repository.ModelUpdate, history *models.ModelVersionHistory) error {
	if s == nil || s.db == nil {
		return nil
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TradingModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"weights":        update.Weights,
				"metadata":       update.Metadata,
				"update_count":   gorm.Expr("update_count + 1"),
				"last_update_at": at,
				"updated_at":     at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if history == nil {
			return nil
		}
		return tx.Create(history).Error
	})
}

func (s *Store) ApplyModelTransition(ctx context.Context, transition repository.ModelTransition) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, change := range transition.StatusChanges {
			res := tx.Model(&models.TradingModel{}).
				Where("id = ?", change.ModelID).
				Updates(map[string]any{"status": change.Status, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		}
		for i := range transition.History {
			if err := tx.Create(&transition.History[i]).Error; err != nil {
				return err
			}
		}
		for i := range transition.Metrics {
			if err := upsertModelMetrics(tx, &transition.Metrics[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LatestRollbackPointer(ctx context.Context, asset string, version int) (*models.ModelVersionHistory, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ModelVersionHistory
	err := s.db.WithContext(ctx).
		Model(&models.ModelVersionHistory{}).
		Where("asset = ? AND version = ?", asset, version).
		Where("event IN ?", []string{models.ModelEventPromoted, models.ModelEventRolledBack}).
		Order("id desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListModelHistory(ctx context.Context, asset string, limit int) ([]models.ModelVersionHistory, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ModelVersionHistory
	err := s.db.WithContext(ctx).
		Model(&models.ModelVersionHistory{}).
		Where("asset = ?", asset).
		Order("id desc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetModelMetrics(ctx context.Context, asset string, version int) (*models.ModelMetrics, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ModelMetrics
	err := s.db.WithContext(ctx).
		Model(&models.ModelMetrics{}).
		Where("asset = ? AND version = ?", asset, version).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertModelMetrics(ctx context.Context, item *models.ModelMetrics) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return upsertModelMetrics(s.db.WithContext(ctx), item)
}

func upsertModelMetrics(db *gorm.DB, item *models.ModelMetrics) error {
	item.ID = 0
	item.UpdatedAt = time.Now().UTC()
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"win_rate",
			"sharpe",
			"max_dd",
			"total_trades",
			"profitable_trades",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) InsertModelUpdateRun(ctx context.Context, item *models.ModelUpdateRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}
