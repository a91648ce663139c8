// Package http serves the status of a running loop: a health check, the
// run snapshot as JSON and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
	"github.com/fyrsmithlabs/loopd/internal/registry"
)

// StatusSource provides the snapshot served by the status endpoints.
// *orchestrator.Orchestrator satisfies it.
type StatusSource interface {
	Snapshot() orchestrator.Snapshot
}

// Config holds status server settings.
type Config struct {
	Host    string
	Port    int
	Version string

	// Meter records request metrics. Nil disables them.
	Meter metric.Meter
}

// Server is the status server.
type Server struct {
	echo   *echo.Echo
	source StatusSource
	logger *logging.Logger
	config Config
}

// NewServer creates a status server for source.
func NewServer(source StatusSource, logger *logging.Logger, cfg Config) (*Server, error) {
	if source == nil {
		return nil, errors.New("status source is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 9191
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(newSnapshotCollector(source)); err != nil {
		return nil, fmt.Errorf("registering snapshot collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		source: source,
		logger: logger.Named("http"),
		config: cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.Meter != nil {
		e.Use(NewHTTPMetrics(cfg.Meter, s.logger).Middleware())
	}
	e.Use(s.logRequests)

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	v1 := e.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/items", s.handleItems)

	return s, nil
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Debug(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusFrom(s.source.Snapshot(), s.config.Version))
}

// handleItems lists manifest items, optionally filtered by ?status=.
func (s *Server) handleItems(c echo.Context) error {
	items := s.source.Snapshot().Items

	if want := strings.TrimSpace(c.QueryParam("status")); want != "" {
		status := registry.Status(want)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", want))
		}
		filtered := make([]registry.Item, 0, len(items))
		for _, it := range items {
			if it.Status == status {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if items == nil {
		items = []registry.Item{}
	}
	return c.JSON(http.StatusOK, ItemsResponse{Items: items})
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting status server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down status server")
	return s.echo.Shutdown(ctx)
}
