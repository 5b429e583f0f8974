package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MacJediWizard/pcapkeeper/internal/retention"
)

// StatusResponse is the last retention snapshot.
type StatusResponse struct {
	Version   string                 `json:"version"`
	Stats     retention.Stats        `json:"stats"`
	LastCycle *retention.CycleReport `json:"last_cycle"`
}

// StatusHandler serves the last retention stats.
type StatusHandler struct {
	source  StatusSource
	version string
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source StatusSource, version string) *StatusHandler {
	return &StatusHandler{source: source, version: version}
}

// RegisterRoutes registers the status route.
func (h *StatusHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/status", h.Get)
}

// Get returns the last stats and cycle report.
// GET /status
func (h *StatusHandler) Get(c *gin.Context) {
	stats, report := h.source.LastCycle()
	c.JSON(http.StatusOK, StatusResponse{
		Version:   h.version,
		Stats:     stats,
		LastCycle: report,
	})
}
