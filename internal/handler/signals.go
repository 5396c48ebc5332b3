package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type SignalHandler struct {
	Repo repository.SignalRepository
}

func (h *SignalHandler) Register(r gin.IRouter) {
	group := r.Group("/signals")
	group.GET("", h.list)
	group.GET("/:id", h.get)
}

func (h *SignalHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := clampLimit(intQuery(c, "limit", 50), 50, 500)
	offset := intQuery(c, "offset", 0)
	params := repository.ListSignalsParams{
		Limit:   limit,
		Offset:  offset,
		UserID:  strQueryPtr(c, "user_id"),
		Asset:   strQueryPtr(c, "asset"),
		Status:  strQueryPtr(c, "status"),
		Since:   sinceQuery(c),
		OrderBy: strings.TrimSpace(c.Query("order_by")),
		Asc:     boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListSignals(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	total, err := h.Repo.CountSignals(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *SignalHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := parseUint64(c.Param("id"))
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetSignal(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "signal not found", nil)
		return
	}
	Ok(c, item, nil)
}
