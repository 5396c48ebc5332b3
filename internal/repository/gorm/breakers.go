package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

func (s *Store) GetBreakerState(ctx context.Context, service string) (*models.CircuitBreakerState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, nil
	}
	var item models.CircuitBreakerState
	err := s.db.WithContext(ctx).Model(&models.CircuitBreakerState{}).Where("service_name = ?", service).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertBreakerState(ctx context.Context, item *models.CircuitBreakerState) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.ServiceName = strings.TrimSpace(item.ServiceName)
	if item.ServiceName == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "service_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"failure_count",
			"opened_at",
			"last_failure_at",
			"last_success_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListBreakerStates(ctx context.Context) ([]models.CircuitBreakerState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.CircuitBreakerState
	if err := s.db.WithContext(ctx).Model(&models.CircuitBreakerState{}).Order("service_name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
