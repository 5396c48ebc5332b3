package gormrepository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

var failedExecutionStatuses = []string{models.ExecutionStatusRejected, models.ExecutionStatusCancelled}

// InsertExecution keeps the first record per signal.
func (s *Store) InsertExecution(ctx context.Context, item *models.Execution) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) executionsQuery(ctx context.Context, params repository.ListExecutionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Execution{})
	if v, ok := trimmed(params.UserID); ok {
		query = query.Where("user_id = ?", v)
	}
	if v, ok := trimmed(params.Asset); ok {
		query = query.Where("asset = ?", v)
	}
	if v, ok := trimmed(params.Status); ok {
		query = query.Where("status = ?", v)
	}
	if v, ok := trimmed(params.Mode); ok {
		query = query.Where("mode = ?", v)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.executionsQuery(ctx, params), params.OrderBy, params.Asc, "created_at", "created_at", "id", "latency_ms")
	var items []models.Execution
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountExecutions(ctx context.Context, params repository.ListExecutionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.executionsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListRecentExecutionStatuses(ctx context.Context, asset string, limit int) ([]string, error) {
	if s == nil || s.db == nil || asset == "" {
		return nil, nil
	}
	var statuses []string
	err := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("asset = ? AND shadow = ?", asset, false).
		Order("created_at desc").
		Order("id desc").
		Limit(normalizeLimit(limit, 50)).
		Pluck("status", &statuses).Error
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

func (s *Store) AverageExecutionLatency(ctx context.Context, asset string, since time.Time) (float64, int64, error) {
	if s == nil || s.db == nil || asset == "" {
		return 0, 0, nil
	}
	var row struct {
		Avg   *float64
		Count int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Select("AVG(latency_ms) AS avg, COUNT(*) AS count").
		Where("asset = ? AND mode = ? AND created_at >= ?", asset, models.ExecutionModeLive, since).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	if row.Avg == nil {
		return 0, row.Count, nil
	}
	return *row.Avg, row.Count, nil
}

func (s *Store) SumExecutedNotional(ctx context.Context, userID, asset string, since time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var total decimal.NullDecimal
	err := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Select("SUM(executed_qty * executed_price)").
		Where("user_id = ? AND asset = ? AND shadow = ?", userID, asset, false).
		Where("status NOT IN ?", failedExecutionStatuses).
		Where("created_at >= ?", since).
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (s *Store) InsertPaperFill(ctx context.Context, item *models.PaperFill) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}},
		DoNothing: true,
	}).Create(item).Error
}
