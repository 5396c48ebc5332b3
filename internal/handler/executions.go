package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type ExecutionHandler struct {
	Repo repository.ExecutionRepository
}

func (h *ExecutionHandler) Register(r gin.IRouter) {
	r.GET("/executions", h.list)
}

func (h *ExecutionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := clampLimit(intQuery(c, "limit", 50), 50, 500)
	offset := intQuery(c, "offset", 0)
	params := repository.ListExecutionsParams{
		Limit:   limit,
		Offset:  offset,
		UserID:  strQueryPtr(c, "user_id"),
		Asset:   strQueryPtr(c, "asset"),
		Status:  strQueryPtr(c, "status"),
		Mode:    strQueryPtr(c, "mode"),
		Since:   sinceQuery(c),
		OrderBy: strings.TrimSpace(c.Query("order_by")),
		Asc:     boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListExecutions(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	total, err := h.Repo.CountExecutions(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
