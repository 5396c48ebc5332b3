package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/lifecycle"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type ModelLifecycle interface {
	EnsureShadow(ctx context.Context, asset string) (*models.TradingModel, error)
	EvaluatePromotion(ctx context.Context, asset string) (lifecycle.PromotionResult, error)
	Rollback(ctx context.Context, asset string) (lifecycle.PromotionResult, error)
}

type ModelHandler struct {
	Repo      repository.ModelRepository
	Lifecycle ModelLifecycle
}

func (h *ModelHandler) Register(r gin.IRouter) {
	group := r.Group("/models")
	group.GET("", h.list)
	group.GET("/:asset/history", h.history)
	group.GET("/:asset/metrics/:version", h.metrics)
	group.POST("/:asset/shadow", h.ensureShadow)
	group.POST("/:asset/evaluate", h.evaluate)
	group.POST("/:asset/rollback", h.rollback)
}

// assetParam is matched exactly; assets are stored as the generator emits them.
func assetParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("asset"))
}

func (h *ModelHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := clampLimit(intQuery(c, "limit", 100), 100, 500)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListModels(c.Request.Context(), repository.ListModelsParams{
		Limit:   limit,
		Offset:  offset,
		Asset:   strQueryPtr(c, "asset"),
		Status:  strQueryPtr(c, "status"),
		OrderBy: strings.TrimSpace(c.Query("order_by")),
		Asc:     boolQueryPtr(c, "asc"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

func (h *ModelHandler) history(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListModelHistory(c.Request.Context(), assetParam(c), clampLimit(intQuery(c, "limit", 100), 100, 500))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}

func (h *ModelHandler) metrics(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	version := int(parseUint64(c.Param("version")))
	if version <= 0 {
		Error(c, http.StatusBadRequest, "invalid version", nil)
		return
	}
	item, err := h.Repo.GetModelMetrics(c.Request.Context(), assetParam(c), version)
	if err != nil {
		Fail(c, err)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "metrics not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *ModelHandler) ensureShadow(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusInternalServerError, "lifecycle unavailable", nil)
		return
	}
	item, err := h.Lifecycle.EnsureShadow(c.Request.Context(), assetParam(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

func (h *ModelHandler) evaluate(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusInternalServerError, "lifecycle unavailable", nil)
		return
	}
	res, err := h.Lifecycle.EvaluatePromotion(c.Request.Context(), assetParam(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, res, nil)
}

func (h *ModelHandler) rollback(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusInternalServerError, "lifecycle unavailable", nil)
		return
	}
	res, err := h.Lifecycle.Rollback(c.Request.Context(), assetParam(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, res, nil)
}
