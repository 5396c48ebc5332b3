package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/safety"
)

type SafetyChecker interface {
	Check(ctx context.Context) (safety.Report, error)
}

type AlertHandler struct {
	Repo    repository.AlertRepository
	Monitor SafetyChecker
}

func (h *AlertHandler) Register(r gin.IRouter) {
	group := r.Group("/alerts")
	group.GET("", h.list)
	group.POST("/:id/ack", h.acknowledge)
	group.POST("/check", h.runCheck)
}

func (h *AlertHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := clampLimit(intQuery(c, "limit", 50), 50, 500)
	offset := intQuery(c, "offset", 0)
	params := repository.ListSafetyAlertsParams{
		Limit:        limit,
		Offset:       offset,
		Asset:        strQueryPtr(c, "asset"),
		Severity:     strQueryPtr(c, "severity"),
		Type:         strQueryPtr(c, "type"),
		Acknowledged: boolQueryPtr(c, "acknowledged"),
		Since:        sinceQuery(c),
		OrderBy:      strings.TrimSpace(c.Query("order_by")),
		Asc:          boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListSafetyAlerts(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	total, err := h.Repo.CountSafetyAlerts(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *AlertHandler) acknowledge(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	ok, err := h.Repo.AcknowledgeSafetyAlert(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		Fail(c, err)
		return
	}
	if !ok {
		Error(c, http.StatusNotFound, "alert not found", nil)
		return
	}
	Ok(c, map[string]any{"id": id, "acknowledged": true}, nil)
}

func (h *AlertHandler) runCheck(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "safety monitor unavailable", nil)
		return
	}
	report, err := h.Monitor.Check(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, report, nil)
}
