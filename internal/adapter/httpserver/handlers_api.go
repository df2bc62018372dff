package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	apperrors "github.com/phixarhasse/musikhjaelpen-alert/internal/platform/errors"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (s *Server) registerAPIRoutes() {
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/donations", s.handleDonations)
}

func (s *Server) handleStatus(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.pipeline.Status()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDonations(c echo.Context) error {
	if s.history == nil {
		return apperrors.NotFoundError("donation history is not enabled")
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			return apperrors.ValidationError(fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)).
				WithField("limit", raw)
		}
		limit = n
	}

	events, err := s.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return apperrors.UnavailableError("failed to load donation history", err)
	}

	if err := c.JSON(http.StatusOK, map[string]any{"donations": events}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
