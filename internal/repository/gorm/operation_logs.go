package gormrepository

import (
	"context"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

func (s *Store) InsertOperationLog(ctx context.Context, item *models.OperationLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListOperationLogs(ctx context.Context, params repository.ListOperationLogsParams) ([]models.OperationLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.OperationLog{})
	if v, ok := trimmed(params.Operation); ok {
		query = query.Where("operation = ?", v)
	}
	if v, ok := trimmed(params.Status); ok {
		query = query.Where("status = ?", v)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("started_at >= ?", *params.Since)
	}
	var items []models.OperationLog
	err := query.Order("started_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
