package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/repository"
	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/service"
)

type SystemSettingsHandler struct {
	Repo     repository.SettingsRepository
	Settings *service.SystemSettingsService
}

func (h *SystemSettingsHandler) Register(r gin.IRouter) {
	g := r.Group("/system-settings")
	g.GET("", h.list)
	g.GET("/switches", h.listSwitches)
	g.GET("/switches/:name", h.getSwitch)
	g.PUT("/switches/:name", h.putSwitch)
	g.GET("/kill-switch", h.getKillSwitch)
	g.PUT("/kill-switch", h.putKillSwitch)
	g.PUT("/executor-mode", h.putExecutorMode)
}

func (h *SystemSettingsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := clampLimit(intQuery(c, "limit", 200), 200, 500)
	offset := intQuery(c, "offset", 0)
	params := repository.ListSystemSettingsParams{
		Limit:   limit,
		Offset:  offset,
		Prefix:  strQueryPtr(c, "prefix"),
		OrderBy: "key",
		Asc:     boolPtr(true),
	}
	items, err := h.Repo.ListSystemSettings(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	total, err := h.Repo.CountSystemSettings(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *SystemSettingsHandler) listSwitches(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	prefix := "feature."
	items, err := h.Repo.ListSystemSettings(c.Request.Context(), repository.ListSystemSettingsParams{
		Limit:   500,
		Prefix:  &prefix,
		OrderBy: "key",
		Asc:     boolPtr(true),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		enabled := false
		_ = json.Unmarshal(it.Value, &enabled)
		out = append(out, map[string]any{
			"name":       strings.TrimPrefix(it.Key, "feature."),
			"key":        it.Key,
			"enabled":    enabled,
			"updated_at": it.UpdatedAt,
		})
	}
	Ok(c, out, nil)
}

func (h *SystemSettingsHandler) getSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		Error(c, http.StatusBadRequest, "invalid switch name", nil)
		return
	}
	key := "feature." + name
	defaults := service.DefaultFeatureSwitches()
	Ok(c, map[string]any{
		"name":    name,
		"key":     key,
		"enabled": h.Settings.IsEnabled(c.Request.Context(), key, defaults[key]),
	}, nil)
}

type putSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *SystemSettingsHandler) putSwitch(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		Error(c, http.StatusBadRequest, "invalid switch name", nil)
		return
	}
	h.setSwitch(c, name)
}

func (h *SystemSettingsHandler) setSwitch(c *gin.Context, name string) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	key := "feature." + name
	if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, map[string]any{
		"name":    name,
		"key":     key,
		"enabled": *req.Enabled,
	}, nil)
}

func (h *SystemSettingsHandler) getKillSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	snap := h.Settings.Snapshot(c.Request.Context())
	Ok(c, map[string]any{
		"trading_enabled": snap.TradingEnabled(),
		"executor_mode":   snap.ExecutorMode,
	}, nil)
}

func (h *SystemSettingsHandler) putKillSwitch(c *gin.Context) {
	h.setSwitch(c, strings.TrimPrefix(service.FeatureTrading, "feature."))
}

type putExecutorModeRequest struct {
	Mode string `json:"mode"`
}

func (h *SystemSettingsHandler) putExecutorMode(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	var req putExecutorModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode != service.ExecutorModePaper && mode != service.ExecutorModePreference {
		Error(c, http.StatusBadRequest, "mode must be paper or preference", nil)
		return
	}
	if err := h.Settings.SetExecutorMode(c.Request.Context(), mode); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, map[string]any{"executor_mode": mode}, nil)
}
