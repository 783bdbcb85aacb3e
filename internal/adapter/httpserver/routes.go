package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/fitmirror/fitmirror/internal/errors"
	"github.com/fitmirror/fitmirror/internal/platform/correlation"
)

const correlationHeader = "X-Correlation-ID"

func (s *Server) registerRoutes() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware())
	s.echo.Use(requestLogger())
	s.echo.Use(apperrors.Middleware())
	s.echo.Use(middleware.Secure())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.config.AllowedOrigins(),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	// The multipart body carries two images plus form fields; allow some
	// overhead beyond the per-file limit.
	s.echo.Use(middleware.BodyLimit(strconv.FormatInt(2*s.config.MaxUploadBytes+1<<20, 10)))

	// Observability endpoints
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API routes
	s.echo.POST("/api/tryon/sessions", s.handleCreateSession, s.createRateLimiter())
	s.echo.GET("/api/tryon/sessions", s.handleListSessions)
	s.echo.GET("/api/tryon/sessions/:id", s.handleGetSession)
	s.echo.GET("/api/tryon/sessions/:id/details", s.handleGetSessionDetails)

	// Artifact serving (refs resolve through the store, never raw paths)
	s.echo.GET("/uploads/:kind/:file", s.handleServeArtifact)
}

// correlationMiddleware tags every request with an ID that flows into the
// request context, all log lines, and the response headers.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(correlationHeader)
			if id == "" {
				id = correlation.NewID()
			}

			ctx := correlation.WithID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set(correlationHeader, id)

			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.InfoContext(c.Request().Context(), "Request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.Round(time.Millisecond).String(),
			)
			return nil
		},
	})
}
