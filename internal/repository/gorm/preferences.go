package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

func (s *Store) ListTradablePreferences(ctx context.Context) ([]repository.TradablePreference, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var prefs []models.UserAssetPreference
	err := s.db.WithContext(ctx).
		Model(&models.UserAssetPreference{}).
		Where("enabled = ?", true).
		Order("user_id asc").
		Order("asset asc").
		Find(&prefs).Error
	if err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		return nil, nil
	}
	ids := make([]uint64, 0, len(prefs))
	seen := map[uint64]struct{}{}
	for _, p := range prefs {
		if _, ok := seen[p.BrokerID]; ok {
			continue
		}
		seen[p.BrokerID] = struct{}{}
		ids = append(ids, p.BrokerID)
	}
	var brokers []models.BrokerConnection
	err = s.db.WithContext(ctx).
		Model(&models.BrokerConnection{}).
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&brokers).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]models.BrokerConnection, len(brokers))
	for _, b := range brokers {
		byID[b.ID] = b
	}
	out := make([]repository.TradablePreference, 0, len(prefs))
	for _, p := range prefs {
		b, ok := byID[p.BrokerID]
		if !ok || b.UserID != p.UserID {
			continue
		}
		out = append(out, repository.TradablePreference{Preference: p, Broker: b})
	}
	return out, nil
}

func (s *Store) GetBrokerConnection(ctx context.Context, id uint64) (*models.BrokerConnection, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.BrokerConnection
	err := s.db.WithContext(ctx).Model(&models.BrokerConnection{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) DisableAssetPreferences(ctx context.Context, asset, pausedBy string, at time.Time) (int64, error) {
	if s == nil || s.db == nil || asset == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.UserAssetPreference{}).
		Where("asset = ? AND enabled = ?", asset, true).
		Updates(map[string]any{
			"enabled":    false,
			"paused_by":  pausedBy,
			"paused_at":  at,
			"updated_at": at,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
