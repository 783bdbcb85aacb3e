package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fitmirror/fitmirror/internal/app"
	"github.com/fitmirror/fitmirror/internal/domain"
	apperrors "github.com/fitmirror/fitmirror/internal/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// statusMessages are the human-readable progress lines clients poll for.
var statusMessages = map[domain.Status]string{
	domain.StatusCreated:    "waiting in queue",
	domain.StatusProcessing: "generating your try-on",
	domain.StatusCompleted:  "ready",
	domain.StatusFailed:     "failed",
}

// sessionStatusView is the polling response: just enough to drive a client's
// progress UI.
type sessionStatusView struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	OutputURL   string `json:"output_url,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
}

// sessionDetailView is the full record, timestamps included.
type sessionDetailView struct {
	SessionID   string `json:"session_id"`
	OwnerToken  string `json:"owner_token"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	PersonURL   string `json:"person_url,omitempty"`
	GarmentURL  string `json:"garment_url,omitempty"`
	OutputURL   string `json:"output_url,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	ExpiresAt   string `json:"expires_at"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	ownerToken := c.FormValue("owner_token")
	category := c.FormValue("category")

	person, err := s.readUpload(c, "person_image")
	if err != nil {
		return err
	}
	garment, err := s.readUpload(c, "garment_image")
	if err != nil {
		return err
	}

	session, err := s.service.CreateSession(c.Request().Context(), ownerToken, category, person, garment)
	if err != nil {
		return mapDomainError(err)
	}

	if err := c.JSON(http.StatusCreated, s.statusView(c, session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSession(c echo.Context) error {
	session, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, s.statusView(c, session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSessionDetails(c echo.Context) error {
	session, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, s.detailView(c, session)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListSessions(c echo.Context) error {
	ownerToken := c.QueryParam("owner_token")
	if ownerToken == "" {
		return apperrors.ValidationError("owner_token query parameter is required")
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return apperrors.ValidationError("limit must be a positive integer").WithField("limit", raw)
		}
		limit = min(parsed, maxListLimit)
	}

	sessions, err := s.service.ListSessions(c.Request().Context(), ownerToken, limit)
	if err != nil {
		return apperrors.InternalError("failed to list sessions", err)
	}

	views := make([]sessionStatusView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, s.statusView(c, session))
	}

	if err := c.JSON(http.StatusOK, map[string]any{"sessions": views}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleServeArtifact(c echo.Context) error {
	ref := fmt.Sprintf("/uploads/%s/%s", c.Param("kind"), c.Param("file"))

	path, err := s.service.ResolveArtifact(ref)
	if err != nil {
		return apperrors.NotFoundError("artifact not found").WithField("ref", ref)
	}

	return c.File(path)
}

func (s *Server) loadSession(c echo.Context) (*domain.Session, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, apperrors.ValidationError("invalid session id").WithField("id", c.Param("id"))
	}

	session, err := s.service.GetSession(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, apperrors.NotFoundError("session not found").WithField("session_id", id.String())
		}
		return nil, apperrors.InternalError("failed to load session", err).WithField("session_id", id.String())
	}
	return session, nil
}

// readUpload pulls one image file out of the multipart form, bounded by the
// configured upload limit.
func (s *Server) readUpload(c echo.Context, field string) (app.Upload, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return app.Upload{}, apperrors.ValidationError(fmt.Sprintf("%s file is required", field))
	}
	if header.Size > s.config.MaxUploadBytes {
		return app.Upload{}, apperrors.TooLargeError(fmt.Sprintf("%s exceeds the %d byte limit", field, s.config.MaxUploadBytes))
	}

	data, err := readAllBounded(header, s.config.MaxUploadBytes)
	if err != nil {
		return app.Upload{}, err
	}

	return app.Upload{
		Filename: header.Filename,
		Size:     int64(len(data)),
		Data:     data,
	}, nil
}

func readAllBounded(header *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, apperrors.InternalError("failed to open uploaded file", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, apperrors.InternalError("failed to read uploaded file", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, apperrors.TooLargeError(fmt.Sprintf("file exceeds the %d byte limit", maxBytes))
	}
	return data, nil
}

func (s *Server) statusView(c echo.Context, session *domain.Session) sessionStatusView {
	view := sessionStatusView{
		SessionID: session.ID.String(),
		Status:    string(session.Status),
		Message:   statusMessages[session.Status],
	}

	if session.Status == domain.StatusCompleted && session.OutputRef != "" {
		view.OutputURL = s.getBaseURL(c) + session.OutputRef
	}
	if session.Status == domain.StatusFailed {
		view.ErrorReason = session.ErrorReason
	}

	return view
}

func (s *Server) detailView(c echo.Context, session *domain.Session) sessionDetailView {
	base := s.getBaseURL(c)

	view := sessionDetailView{
		SessionID:   session.ID.String(),
		OwnerToken:  session.OwnerToken,
		Category:    string(session.Category),
		Status:      string(session.Status),
		ErrorReason: session.ErrorReason,
		CreatedAt:   session.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   session.UpdatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:   session.ExpiresAt.UTC().Format(time.RFC3339),
	}

	if ref := session.PersonRef; ref != "" && ref != "pending" {
		view.PersonURL = base + ref
	}
	if ref := session.GarmentRef; ref != "" && ref != "pending" {
		view.GarmentURL = base + ref
	}
	if session.OutputRef != "" {
		view.OutputURL = base + session.OutputRef
	}

	return view
}

// mapDomainError converts intake errors into the API error taxonomy. The raw
// error text of unknown failures never reaches the client.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidOwnerToken):
		return apperrors.ValidationError("invalid owner_token").WithField("reason", err.Error())
	case errors.Is(err, domain.ErrInvalidCategory):
		return apperrors.ValidationError("category must be one of upper_body, lower_body, dresses")
	case errors.Is(err, domain.ErrImageTooLarge):
		return apperrors.TooLargeError(err.Error())
	case errors.Is(err, domain.ErrInvalidImage):
		return apperrors.UnsupportedMediaError(err.Error())
	default:
		return apperrors.InternalError("failed to create session", err)
	}
}
