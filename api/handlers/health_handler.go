package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vidrelay/vidrelay/internal/domain"
	"github.com/vidrelay/vidrelay/internal/registry"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	registry *registry.Registry
	version  string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(reg *registry.Registry, version string) *HealthHandler {
	return &HealthHandler{
		registry: reg,
		version:  version,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Sessions  int      `json:"sessions"`
	Active    int      `json:"active"`
	Platforms []string `json:"platforms"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Sessions: h.registry.Len(),
		Active:   h.registry.CountActive(),
		Platforms: []string{
			string(domain.PlatformTikTok),
			string(domain.PlatformDouyin),
			string(domain.PlatformYouTube),
			string(domain.PlatformFacebook),
			string(domain.PlatformInstagram),
		},
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
