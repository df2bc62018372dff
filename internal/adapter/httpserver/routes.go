package httpserver

import (
	"crypto/subtle"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/phixarhasse/musikhjaelpen-alert/internal/platform/errors"
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware)
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware(isStreamRoute))
	}
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		HSTSPreloadEnabled: true,
		ContentSecurityPolicy: "default-src 'self'; " +
			"script-src 'self' 'unsafe-inline'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data:; " +
			"connect-src 'self'",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}))

	s.registerOverlayRoutes()
	s.registerTriggerRoutes()
	s.registerHealthRoutes()
	s.registerAPIRoutes()

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

// isStreamRoute matches the long-lived overlay streams. Their lifetime is
// not a request latency, so request logging and HTTP metrics leave them out.
func isStreamRoute(c echo.Context) bool {
	return c.Path() == "/events" || c.Path() == "/ws"
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper:    isStreamRoute,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// triggerMiddleware rate limits the trigger routes and, when a token is
// configured, requires it as a Bearer header or a token query parameter.
func (s *Server) triggerMiddleware() []echo.MiddlewareFunc {
	mws := []echo.MiddlewareFunc{newRateLimiter(s.config.TriggerRateLimit, s.config.TriggerBurst)}
	if s.config.TriggerToken == "" {
		return mws
	}

	token := []byte(s.config.TriggerToken)
	return append(mws, middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:Authorization,query:token",
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), token) == 1, nil
		},
		ErrorHandler: func(_ error, _ echo.Context) error {
			return apperrors.UnauthorizedError("missing or invalid trigger token")
		},
	}))
}
