// Package alerts appends safety alerts and fans them out to metrics, Kafka
// and notification channels.
package alerts

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/events"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/metrics"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/notify"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

// Raiser is what guards depend on to emit an alert.
type Raiser interface {
	Raise(ctx context.Context, alert *models.SafetyAlert) error
}

type Dispatcher struct {
	Repo      repository.AlertRepository
	Publisher events.Publisher
	Notifier  notify.Notifier
	Metrics   *metrics.Recorder
	Logger    *zap.Logger
}

// Raise persists the alert. Publishing and notification are best effort.
func (d *Dispatcher) Raise(ctx context.Context, alert *models.SafetyAlert) error {
	if d == nil || alert == nil {
		return nil
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if d.Repo != nil {
		if err := d.Repo.InsertSafetyAlert(ctx, alert); err != nil {
			return fmt.Errorf("insert safety alert: %w", err)
		}
	}
	d.Metrics.RecordAlert(alert.Type, alert.Severity)
	if d.Logger != nil {
		d.Logger.Warn("safety alert",
			zap.String("asset", alert.Asset),
			zap.String("type", alert.Type),
			zap.String("severity", alert.Severity),
			zap.Float64("value", alert.Value),
			zap.Float64("threshold", alert.Threshold),
		)
	}
	events.PublishBestEffort(ctx, d.Publisher, d.Logger, events.TopicAlerts, alert.Asset, alert)
	if d.Notifier != nil {
		err := d.Notifier.Notify(ctx, notify.Message{
			Event:    alert.Type,
			Asset:    alert.Asset,
			Severity: alert.Severity,
			Text:     alert.Message,
		})
		if err != nil && d.Logger != nil {
			d.Logger.Warn("alert notify failed", zap.String("type", alert.Type), zap.Error(err))
		}
	}
	return nil
}
