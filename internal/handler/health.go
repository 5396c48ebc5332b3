package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/service"
)

type SettingsSnapshotter interface {
	Snapshot(ctx context.Context) service.Snapshot
}

// HealthHandler serves liveness and readiness. Readiness needs the database;
// open breakers and a disabled kill switch are reported as degraded but the
// process still takes traffic for the operator API.
type HealthHandler struct {
	DB       *gorm.DB
	Breakers repository.BreakerRepository
	Settings SettingsSnapshotter
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) ready(c *gin.Context) {
	ctx := c.Request.Context()
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}

	status := "ready"
	body := gin.H{}
	if h.Settings != nil {
		trading := h.Settings.Snapshot(ctx).TradingEnabled()
		body["trading_enabled"] = trading
		if !trading {
			status = "degraded"
		}
	}
	if h.Breakers != nil {
		open := []string{}
		states, err := h.Breakers.ListBreakerStates(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "breakers_unreadable"})
			return
		}
		for _, st := range states {
			if st.Status != models.BreakerClosed {
				open = append(open, st.ServiceName)
			}
		}
		body["open_breakers"] = open
		if len(open) > 0 {
			status = "degraded"
		}
	}
	body["status"] = status
	c.JSON(http.StatusOK, body)
}
