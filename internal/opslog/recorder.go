// Package opslog appends operation history rows and mirrors them to the
// central log API when one is configured.
package opslog

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/config"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type Recorder struct {
	Repo   repository.OperationLogRepository
	Remote *Client
	Logger *zap.Logger
}

func New(cfg config.OpsLogConfig, repo repository.OperationLogRepository, logger *zap.Logger) *Recorder {
	r := &Recorder{Repo: repo, Logger: logger}
	if strings.TrimSpace(cfg.BaseURL) != "" && strings.TrimSpace(cfg.APIKey) != "" {
		r.Remote = &Client{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Agent: cfg.Agent}
	}
	return r
}

// Record persists the row. The remote mirror never fails the caller.
func (r *Recorder) Record(ctx context.Context, item *models.OperationLog) error {
	if r == nil || item == nil {
		return nil
	}
	if item.FinishedAt.IsZero() {
		item.FinishedAt = time.Now().UTC()
	}
	if item.StartedAt.IsZero() {
		item.StartedAt = item.FinishedAt
	}
	if r.Repo != nil {
		if err := r.Repo.InsertOperationLog(context.WithoutCancel(ctx), item); err != nil {
			return err
		}
	}
	r.mirror(item)
	return nil
}

func (r *Recorder) mirror(item *models.OperationLog) {
	if r.Remote == nil {
		return
	}
	details := map[string]any{}
	if len(item.Details) > 0 {
		_ = json.Unmarshal(item.Details, &details)
	}
	details["users_processed"] = item.UsersProcessed
	details["signals_generated"] = item.SignalsGenerated
	details["trades_executed"] = item.TradesExecuted
	details["trades_failed"] = item.TradesFailed

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.Remote.CreateLog(ctx, CreateLogRequest{
		Action:     item.Operation,
		Level:      levelFor(item.Status),
		Details:    details,
		SessionKey: item.CycleID,
		Metadata:   map[string]any{"status": item.Status},
	})
	if err != nil && r.Logger != nil {
		r.Logger.Debug("ops log mirror failed", zap.String("operation", item.Operation), zap.Error(err))
	}
}

func levelFor(status string) string {
	switch status {
	case models.OperationStatusFailed:
		return "error"
	case models.OperationStatusPartial:
		return "warn"
	default:
		return "info"
	}
}
