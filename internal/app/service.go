package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fitmirror/fitmirror/internal/domain"
	"github.com/fitmirror/fitmirror/internal/metrics"
)

const maxOwnerTokenLen = 255

// submitter is the slice of the dispatcher the intake path needs.
type submitter interface {
	Submit(ctx context.Context, id uuid.UUID) error
}

// Upload is one image file received from a client.
type Upload struct {
	Filename string
	Size     int64
	Data     []byte
}

// Service orchestrates the intake and query paths: it creates the session
// row, saves artifacts, attaches their refs, and hands the session to the
// dispatcher exactly once.
type Service struct {
	sessions   domain.SessionRepository
	artifacts  domain.ArtifactStore
	dispatcher submitter
	ttl        time.Duration
}

func NewService(sessions domain.SessionRepository, artifacts domain.ArtifactStore, dispatcher submitter, ttl time.Duration) *Service {
	return &Service{
		sessions:   sessions,
		artifacts:  artifacts,
		dispatcher: dispatcher,
		ttl:        ttl,
	}
}

// CreateSession validates the inputs, persists a new session with both
// artifacts attached, and submits it for processing. Validation failures
// happen before any state is created.
func (s *Service) CreateSession(ctx context.Context, ownerToken, rawCategory string, person, garment Upload) (*domain.Session, error) {
	if ownerToken == "" || len(ownerToken) > maxOwnerTokenLen {
		return nil, fmt.Errorf("%w: must be 1-%d characters", domain.ErrInvalidOwnerToken, maxOwnerTokenLen)
	}

	category, err := domain.ParseCategory(rawCategory)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(ctx, ownerToken, category, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// Both inputs are independent writes; save them concurrently.
	var personRef, garmentRef string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		personRef, err = s.artifacts.Save(gctx, session.ID, domain.ArtifactPerson, person.Filename, person.Size, person.Data)
		return err
	})
	g.Go(func() error {
		var err error
		garmentRef, err = s.artifacts.Save(gctx, session.ID, domain.ArtifactGarment, garment.Filename, garment.Size, garment.Data)
		return err
	})
	if err := g.Wait(); err != nil {
		s.discard(ctx, session.ID, personRef, garmentRef)
		return nil, err
	}

	if err := s.sessions.AttachInputs(ctx, session.ID, personRef, garmentRef); err != nil {
		s.discard(ctx, session.ID, personRef, garmentRef)
		return nil, fmt.Errorf("failed to attach inputs: %w", err)
	}
	session.PersonRef = personRef
	session.GarmentRef = garmentRef

	if err := s.dispatcher.Submit(ctx, session.ID); err != nil {
		s.discard(ctx, session.ID, personRef, garmentRef)
		return nil, fmt.Errorf("failed to submit session: %w", err)
	}

	metrics.SessionsCreatedTotal.Inc()
	slog.InfoContext(ctx, "Session created", "session_id", session.ID.String(), "owner", ownerToken, "category", category)
	return session, nil
}

// GetSession retrieves a session by id.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.sessions.Get(ctx, id)
}

// ListSessions returns the owner's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, ownerToken string, limit int) ([]*domain.Session, error) {
	return s.sessions.ListByOwner(ctx, ownerToken, limit)
}

// ResolveArtifact maps a stored ref to its filesystem location.
func (s *Service) ResolveArtifact(ref string) (string, error) {
	return s.artifacts.Resolve(ref)
}

// discard best-effort cleans up a half-created session after an intake
// failure. The reaper would get to it eventually; this just keeps failed
// intakes from lingering for a full TTL.
func (s *Service) discard(ctx context.Context, id uuid.UUID, refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.artifacts.Delete(ctx, ref); err != nil {
			slog.WarnContext(ctx, "Failed to clean up artifact after intake failure", "ref", ref, "error", err)
		}
	}

	if _, err := s.sessions.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		slog.WarnContext(ctx, "Failed to clean up session after intake failure", "session_id", id.String(), "error", err)
	}
}
