package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"predictpool/internal/repository"
	"predictpool/internal/service"
)

type SettingsHandler struct {
	Repo  repository.Repository
	Flags *service.SystemSettingsService
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/admin/settings", h.list)
	r.PUT("/api/v1/admin/settings/:key", h.set)
}

func (h *SettingsHandler) list(c *gin.Context) {
	items, err := h.Repo.ListSystemSettings(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, items)
}

type setSettingRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *SettingsHandler) set(c *gin.Context) {
	key := c.Param("key")
	var req setSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.Flags.SetEnabled(c.Request.Context(), key, *req.Enabled); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"key": key, "enabled": *req.Enabled})
}
