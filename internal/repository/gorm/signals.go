package gormrepository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

var signalOrderColumns = []string{"created_at", "id", "executed_at", "sent_at"}

func (s *Store) InsertSignal(ctx context.Context, item *models.Signal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.Status == "" {
		item.Status = models.SignalStatusQueued
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetSignal(ctx context.Context, id uint64) (*models.Signal, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Signal
	err := s.db.WithContext(ctx).Model(&models.Signal{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) signalsQuery(ctx context.Context, params repository.ListSignalsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Signal{})
	if v, ok := trimmed(params.UserID); ok {
		query = query.Where("user_id = ?", v)
	}
	if v, ok := trimmed(params.Asset); ok {
		query = query.Where("asset = ?", v)
	}
	if v, ok := trimmed(params.Status); ok {
		query = query.Where("status = ?", v)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.signalsQuery(ctx, params), params.OrderBy, params.Asc, "created_at", signalOrderColumns...)
	var items []models.Signal
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSignals(ctx context.Context, params repository.ListSignalsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.signalsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListQueuedSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Signal
	err := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("status = ?", models.SignalStatusQueued).
		Order("created_at asc").
		Order("id asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSentSignalsBefore(ctx context.Context, before time.Time, limit int) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Signal
	err := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("status = ?", models.SignalStatusSent).
		Where("sent_at < ?", before).
		Order("sent_at asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TransitionSignal(ctx context.Context, id uint64, next string, update repository.SignalUpdate) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	priors := models.SignalPriorStatuses(next)
	if len(priors) == 0 {
		return false, fmt.Errorf("invalid signal status %q", next)
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	values := map[string]any{"status": next}
	switch next {
	case models.SignalStatusSent:
		values["sent_at"] = at
	case models.SignalStatusExecuted:
		values["executed_at"] = at
	}
	if update.Attempts != nil {
		values["attempts"] = *update.Attempts
	}
	if update.Annotation != nil {
		values["annotation"] = *update.Annotation
	}
	if update.ErrorMessage != nil {
		values["error_message"] = *update.ErrorMessage
	}
	res := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("id = ? AND status IN ?", id, priors).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
