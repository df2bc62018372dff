// Package httpserver serves the overlay page and streams, the inbound donation
// trigger, and the operational endpoints.
package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/metrics"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/app"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/config"
	"github.com/phixarhasse/musikhjaelpen-alert/web"
)

type pipelineService interface {
	Trigger(ctx context.Context, t app.Trigger) (app.TriggerResult, error)
	Status() app.Status
}

// OverlayStreams serves the push endpoints overlay clients subscribe to.
type OverlayStreams interface {
	ServeSSE(w http.ResponseWriter, r *http.Request)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// DonationHistory reads recently recorded donations.
type DonationHistory interface {
	Recent(ctx context.Context, limit int) ([]domain.DonationEvent, error)
}

// Deps are the collaborators the server routes to. History, Metrics and
// HTTPMetrics are optional.
type Deps struct {
	Pipeline     pipelineService
	Streams      OverlayStreams
	History      DonationHistory
	Metrics      http.Handler
	HTTPMetrics  *metrics.HTTPMetrics
	HealthChecks []HealthCheck
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	pipeline     pipelineService
	streams      OverlayStreams
	history      DonationHistory
	metrics      http.Handler
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck

	templates *template.Template
	startTime time.Time
}

func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		pipeline:     deps.Pipeline,
		streams:      deps.Streams,
		history:      deps.History,
		metrics:      deps.Metrics,
		httpMetrics:  deps.HTTPMetrics,
		healthChecks: deps.HealthChecks,
		templates:    templates,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}
