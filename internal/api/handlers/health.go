// Package handlers implements the status server endpoints.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/pcapkeeper/internal/retention"
)

// HealthStatus represents the health status of the daemon.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// StatusSource reports the most recent retention cycle.
type StatusSource interface {
	LastCycle() (retention.Stats, *retention.CycleReport)
}

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status  HealthStatus   `json:"status"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// HealthResponse is the response for the health endpoint.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
	Error  string                        `json:"error,omitempty"`
}

// HealthHandler reports whether retention cycles are still running.
type HealthHandler struct {
	source     StatusSource
	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewHealthHandler creates a HealthHandler. The daemon is unhealthy once the
// last cycle started more than staleAfter ago; zero disables the check.
func NewHealthHandler(source StatusSource, staleAfter time.Duration, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		source:     source,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterRoutes registers the health route.
func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Overall)
}

// Overall returns the daemon health.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	result := h.checkCycles()
	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{"retention": result},
	}

	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *HealthHandler) checkCycles() *HealthCheckResult {
	_, report := h.source.LastCycle()
	if report == nil {
		return &HealthCheckResult{
			Status:  HealthStatusHealthy,
			Details: map[string]any{"cycles": 0},
		}
	}

	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
		Details: map[string]any{
			"last_cycle_id": report.ID,
			"outcome":       report.Outcome,
			"started_at":    report.StartedAt.UTC().Format(time.RFC3339),
		},
	}

	if h.staleAfter > 0 {
		if age := h.now().Sub(report.StartedAt); age > h.staleAfter {
			result.Status = HealthStatusUnhealthy
			result.Error = fmt.Sprintf("no retention cycle for %s", age.Truncate(time.Second))
			h.logger.Warn().Dur("age", age).Msg("retention cycles are stale")
		}
	}
	return result
}
