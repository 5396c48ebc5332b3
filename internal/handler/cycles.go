package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/orchestrator"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (orchestrator.CycleSummary, error)
}

type CycleHandler struct {
	Repo   repository.OperationLogRepository
	Runner CycleRunner
}

func (h *CycleHandler) Register(r gin.IRouter) {
	group := r.Group("/cycles")
	group.GET("", h.list)
	group.POST("/run", h.runOnce)
}

func (h *CycleHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := clampLimit(intQuery(c, "limit", 50), 50, 500)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListOperationLogs(c.Request.Context(), repository.ListOperationLogsParams{
		Limit:     limit,
		Offset:    offset,
		Operation: strQueryPtr(c, "operation"),
		Status:    strQueryPtr(c, "status"),
		Since:     sinceQuery(c),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

func (h *CycleHandler) runOnce(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	summary, err := h.Runner.RunCycle(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, summary, nil)
}
