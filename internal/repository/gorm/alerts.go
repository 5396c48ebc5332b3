package gormrepository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

func (s *Store) InsertSafetyAlert(ctx context.Context, item *models.SafetyAlert) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) alertsQuery(ctx context.Context, params repository.ListSafetyAlertsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.SafetyAlert{})
	if v, ok := trimmed(params.Asset); ok {
		query = query.Where("asset = ?", v)
	}
	if v, ok := trimmed(params.Severity); ok {
		query = query.Where("severity = ?", v)
	}
	if v, ok := trimmed(params.Type); ok {
		query = query.Where("type = ?", v)
	}
	if params.Acknowledged != nil {
		query = query.Where("acknowledged = ?", *params.Acknowledged)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListSafetyAlerts(ctx context.Context, params repository.ListSafetyAlertsParams) ([]models.SafetyAlert, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.alertsQuery(ctx, params), params.OrderBy, params.Asc, "created_at", "created_at", "id")
	var items []models.SafetyAlert
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSafetyAlerts(ctx context.Context, params repository.ListSafetyAlertsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.alertsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// AcknowledgeSafetyAlert returns false only when the alert does not exist.
func (s *Store) AcknowledgeSafetyAlert(ctx context.Context, id uint64, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var item models.SafetyAlert
	err := s.db.WithContext(ctx).Model(&models.SafetyAlert{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if item.Acknowledged {
		return true, nil
	}
	err = s.db.WithContext(ctx).
		Model(&models.SafetyAlert{}).
		Where("id = ? AND acknowledged = ?", id, false).
		Updates(map[string]any{"acknowledged": true, "acknowledged_at": at}).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) HasOpenSafetyAlert(ctx context.Context, asset, alertType string, since time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.SafetyAlert{}).
		Where("asset = ? AND type = ? AND acknowledged = ? AND created_at >= ?", asset, alertType, false, since).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
