package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/app"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	apperrors "github.com/phixarhasse/musikhjaelpen-alert/internal/platform/errors"
)

const maxTriggerBody = 1 << 10

type triggerResponse struct {
	Status string                `json:"status"`
	Event  *domain.DonationEvent `json:"event,omitempty"`
}

func (s *Server) registerTriggerRoutes() {
	mws := s.triggerMiddleware()
	s.echo.POST("/donation", s.handleDonation, mws...)
	s.echo.POST("/donation-200", s.handleSprintDonation, mws...)
}

// handleDonation accepts {"amount": n} relative to the current total or
// {"total": n} as an absolute total. A request without a body is a plain
// "donation happened" signal.
func (s *Server) handleDonation(c echo.Context) error {
	var req app.Trigger
	dec := json.NewDecoder(http.MaxBytesReader(c.Response(), c.Request().Body, maxTriggerBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.ValidationError("request body must be empty, {\"amount\": n} or {\"total\": n}")
	}

	result, err := s.pipeline.Trigger(c.Request().Context(), req)
	if err != nil {
		return triggerError(err, req)
	}

	if !result.Published {
		if err := c.JSON(http.StatusOK, triggerResponse{Status: "ignored"}); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}

	if err := c.JSON(http.StatusAccepted, triggerResponse{Status: "published", Event: &result.Event}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleSprintDonation fakes a donation of exactly the sprint threshold and
// sends the browser back to the overlay with the countdown visible.
func (s *Server) handleSprintDonation(c echo.Context) error {
	req := app.Trigger{Amount: s.config.SprintThreshold}
	if _, err := s.pipeline.Trigger(c.Request().Context(), req); err != nil {
		return triggerError(err, req)
	}

	return c.Redirect(http.StatusSeeOther, "/?show_timer=true")
}

func triggerError(err error, req app.Trigger) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTrigger):
		return apperrors.ValidationError(err.Error()).
			WithField("amount", req.Amount).
			WithField("total", req.Total)
	case errors.Is(err, domain.ErrMonitorStopped):
		return apperrors.UnavailableError("donation monitor is not running", err)
	default:
		return apperrors.InternalError("failed to trigger donation", err)
	}
}
