// Package httpserver exposes the try-on API over HTTP: session intake,
// status polling, artifact serving and the operational endpoints.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fitmirror/fitmirror/internal/app"
	"github.com/fitmirror/fitmirror/internal/domain"
	"github.com/fitmirror/fitmirror/internal/platform/config"
)

// tryonService is the application surface the HTTP layer needs.
type tryonService interface {
	CreateSession(ctx context.Context, ownerToken, category string, person, garment app.Upload) (*domain.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListSessions(ctx context.Context, ownerToken string, limit int) ([]*domain.Session, error)
	ResolveArtifact(ref string) (string, error)
}

// dbHealthChecker is the minimal surface needed for readiness probes.
type dbHealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	service   tryonService
	db        dbHealthChecker
	startTime time.Time
}

func NewServer(cfg *config.Config, service tryonService, db dbHealthChecker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		service:   service,
		db:        db,
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// getBaseURL reconstructs the externally visible base URL from the request.
func (s *Server) getBaseURL(c echo.Context) string {
	scheme := "http"
	if c.Request().TLS != nil || c.Request().Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request().Host)
}
