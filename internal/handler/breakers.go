package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
)

type BreakerResetter interface {
	Reset(ctx context.Context, service string) error
}

type BreakerHandler struct {
	Repo    repository.BreakerRepository
	Breaker BreakerResetter
}

func (h *BreakerHandler) Register(r gin.IRouter) {
	group := r.Group("/breakers")
	group.GET("", h.list)
	group.POST("/:service/reset", h.reset)
}

func (h *BreakerHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListBreakerStates(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, nil)
}

func (h *BreakerHandler) reset(c *gin.Context) {
	if h.Breaker == nil {
		Error(c, http.StatusInternalServerError, "breaker unavailable", nil)
		return
	}
	service := strings.TrimSpace(c.Param("service"))
	if service == "" {
		Error(c, http.StatusBadRequest, "invalid service", nil)
		return
	}
	if err := h.Breaker.Reset(c.Request.Context(), service); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, map[string]any{"service": service, "status": "closed"}, nil)
}
