// Package api provides the HTTP status server for pcapkeeper.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/pcapkeeper/internal/api/handlers"
	"github.com/MacJediWizard/pcapkeeper/internal/api/middleware"
)

// Config holds configuration for the status server.
type Config struct {
	Version string
	// StaleAfter marks the daemon unhealthy when no cycle has started for
	// this long. Zero disables the check.
	StaleAfter time.Duration
}

// Server wraps a gin engine serving health, status and metrics.
type Server struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewServer creates a status server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(cfg Config, source handlers.StatusSource, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		Engine: gin.New(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.Engine.Use(gin.Recovery())
	s.Engine.Use(middleware.RequestLogger(logger, "/health", "/metrics"))

	handlers.NewHealthHandler(source, cfg.StaleAfter, logger).RegisterRoutes(s.Engine)
	handlers.NewStatusHandler(source, cfg.Version).RegisterRoutes(s.Engine)
	s.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
