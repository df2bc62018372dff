package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type overlayPage struct {
	ShowTimer         bool
	DisplayDurationMs int64
}

func (s *Server) registerOverlayRoutes() {
	s.echo.GET("/", s.handleOverlay)
	s.echo.GET("/events", echo.WrapHandler(http.HandlerFunc(s.streams.ServeSSE)))
	s.echo.GET("/ws", echo.WrapHandler(http.HandlerFunc(s.streams.ServeWS)))
}

func (s *Server) handleOverlay(c echo.Context) error {
	showTimer, _ := strconv.ParseBool(c.QueryParam("show_timer"))

	return s.renderTemplate(c, "overlay.html", overlayPage{
		ShowTimer:         showTimer,
		DisplayDurationMs: s.config.OverlayDisplayDuration.Milliseconds(),
	})
}
